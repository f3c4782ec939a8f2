package asr

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/mockserver"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig(url string) Config {
	return Config{
		URL:         url,
		AppKey:      "app-key",
		AccessKey:   "access-key",
		GracePeriod: 2 * time.Second,
	}
}

func TestDialStreamsSixteenKilohertzSession(t *testing.T) {
	srv := mockserver.New(mockserver.Config{Sequence: true}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Dial(ctx, mockConfig(url), discardLogger())
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte{0x00, 0x10}, 3200)
	require.NoError(t, s.Run(ctx, closedAudio(chunk, chunk, chunk)))
	got := collect(s.Results())

	require.Len(t, got, 3)
	assert.Equal(t, "你好", got[0].Text)
	assert.Equal(t, int32(1), got[0].Sequence)
	assert.Equal(t, "你好世界", got[1].Text)
	assert.Equal(t, "你好世界。", got[2].Text)
	assert.True(t, got[2].Final)
	assert.Equal(t, int32(-3), got[2].Sequence)
	require.Len(t, got[2].Utterances, 1)
	assert.Equal(t, 600, got[2].Utterances[0].EndTime)
	assert.Equal(t, "你好世界。", s.LastText())

	inits := srv.Inits()
	require.Len(t, inits, 1)
	assert.Equal(t, 16000, inits[0].Audio.Rate)
	assert.Equal(t, "bigmodel", inits[0].Request.ModelName)

	frames := srv.AudioFrames()
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, 6400, f.Size)
		assert.Equal(t, i == 2, f.Final)
	}

	headers := srv.Headers()
	require.Len(t, headers, 1)
	assert.Equal(t, "app-key", headers[0].Get(HeaderAppKey))
	assert.Equal(t, "access-key", headers[0].Get(HeaderAccessKey))
	assert.Equal(t, DefaultResourceID, headers[0].Get(HeaderResourceID))
	assert.NotEmpty(t, headers[0].Get(HeaderConnectID))
	assert.NotEmpty(t, headers[0].Get(HeaderRequestID))
}

func TestDialKeepsGivenConnectID(t *testing.T) {
	srv := mockserver.New(mockserver.Config{Uncompressed: true}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	cfg := mockConfig(url)
	cfg.ConnectID = "connect-1"
	s, err := Dial(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), closedAudio([]byte{1, 2})))

	assert.Equal(t, "connect-1", srv.Headers()[0].Get(HeaderConnectID))
	assert.Equal(t, "你好世界。", s.LastText())
}

func TestDialRejectedCredentials(t *testing.T) {
	srv := mockserver.New(mockserver.Config{AppKey: "expected"}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	_, err := Dial(context.Background(), mockConfig(url), discardLogger())
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransportDial))
	assert.Contains(t, err.Error(), "403")
}

func TestDialRequiresCredentials(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1"}, discardLogger())
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonConfigInvalid))
}

func TestDialInitRejected(t *testing.T) {
	srv := mockserver.New(mockserver.Config{
		RejectInit:   true,
		ErrorCode:    45000002,
		ErrorMessage: "empty audio config",
	}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	_, err := Dial(context.Background(), mockConfig(url), discardLogger())
	re, ok := protocol.AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, uint32(45000002), re.Code)
	assert.Equal(t, "empty audio config", re.Message)
}

func TestSessionRemoteErrorMidStream(t *testing.T) {
	srv := mockserver.New(mockserver.Config{FailAfter: 1}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	s, err := Dial(context.Background(), mockConfig(url), discardLogger())
	require.NoError(t, err)

	// The second chunk releases the first; the source then stays open so
	// the error, not the source, ends the session.
	audio := make(chan []byte, 2)
	audio <- []byte{1, 1}
	audio <- []byte{2, 2}
	err = s.Run(context.Background(), audio)

	re, ok := protocol.AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, mockserver.CodeInvalidAudio, re.Code)
	assert.Equal(t, "invalid audio", re.Message)
	assert.True(t, errorsx.Terminal(err))
}

func TestSessionSurvivesMalformedFrame(t *testing.T) {
	srv := mockserver.New(mockserver.Config{MalformedAfter: 1}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	s, err := Dial(context.Background(), mockConfig(url), discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), closedAudio([]byte{1}, []byte{2})))

	got := collect(s.Results())
	require.NotEmpty(t, got)
	assert.True(t, got[len(got)-1].Final)
	assert.Equal(t, "你好世界。", got[len(got)-1].Text)
}

func TestSessionGracePeriodWithoutFinalResponse(t *testing.T) {
	srv := mockserver.New(mockserver.Config{SkipFinal: true}, discardLogger())
	url := srv.Start()
	defer srv.Close()

	cfg := mockConfig(url)
	cfg.GracePeriod = 300 * time.Millisecond
	s, err := Dial(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), closedAudio([]byte{1}, []byte{2})))

	for _, r := range collect(s.Results()) {
		assert.False(t, r.Final)
	}
	assert.Equal(t, "你好", s.LastText())
}
