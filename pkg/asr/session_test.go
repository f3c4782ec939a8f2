package asr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn replays scripted server frames and records client writes.
type fakeConn struct {
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
	// failWrite makes the nth binary write fail when non-zero.
	failWrite int
}

func newFakeConn(frames ...[]byte) *fakeConn {
	fc := &fakeConn{reads: make(chan []byte, 16), closed: make(chan struct{})}
	for _, f := range frames {
		fc.reads <- f
	}
	return fc
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	if mt == websocket.BinaryMessage {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failWrite > 0 && len(f.writes)+1 == f.failWrite {
			return errors.New("broken pipe")
		}
		f.writes = append(f.writes, append([]byte(nil), data...))
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case d, ok := <-f.reads:
		if !ok {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return websocket.BinaryMessage, d, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Frame, 0, len(f.writes))
	for _, w := range f.writes {
		fr, err := protocol.Unmarshal(w)
		if err == nil {
			out = append(out, fr)
		}
	}
	return out
}

func response(text string, final bool) []byte {
	flags := protocol.FlagNone
	if final {
		flags = protocol.FlagFinal
	}
	return protocol.Marshal(protocol.Frame{
		Header:  protocol.NewHeader(protocol.FullServerResponse, flags, protocol.SerializationJSON, protocol.CompressionNone),
		Payload: []byte(`{"result":{"text":"` + text + `"}}`),
	})
}

func testConfig() Config {
	return Config{AppKey: "app", AccessKey: "key", GracePeriod: 2 * time.Second, AckTimeout: time.Second}
}

func startedSession(t *testing.T, fc *fakeConn, cfg Config) *Session {
	t.Helper()
	s := NewSession(fc, cfg, discardLogger())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateStreaming, s.State())
	return s
}

func collect(ch <-chan Result) []Result {
	var out []Result
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func closedAudio(chunks ...[]byte) <-chan []byte {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestStartSendsInitFrame(t *testing.T) {
	fc := newFakeConn(response("", false))
	startedSession(t, fc, testConfig())

	frames := fc.written()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.FullClientRequest, frames[0].Type)
	assert.Equal(t, protocol.CompressionGzip, frames[0].Compression)
	assert.Contains(t, string(frames[0].Payload), `"model_name":"bigmodel"`)
}

func TestStartTwiceFails(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	err := s.Start(context.Background())
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonSessionState))
}

func TestStartMalformedAckStillStreams(t *testing.T) {
	fc := newFakeConn([]byte{0x11, 0x90, 0x11, 0x00, 0x00, 0x00, 0x00, 0x09})
	startedSession(t, fc, testConfig())
}

func TestStartAckTimeout(t *testing.T) {
	fc := newFakeConn()
	cfg := testConfig()
	cfg.AckTimeout = 30 * time.Millisecond
	s := NewSession(fc, cfg, discardLogger())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonSessionState))
	assert.Equal(t, StateClosed, s.State())
	_, ok := <-s.Results()
	assert.False(t, ok)
}

func TestStartRemoteErrorIsTerminal(t *testing.T) {
	errFrame := protocol.Marshal(protocol.Frame{
		Header:    protocol.NewHeader(protocol.ErrorResponse, protocol.FlagNone, protocol.SerializationJSON, protocol.CompressionNone),
		ErrorCode: 45000010,
		Payload:   []byte("invalid app key"),
	})
	s := NewSession(newFakeConn(errFrame), testConfig(), discardLogger())

	err := s.Start(context.Background())
	re, ok := protocol.AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, uint32(45000010), re.Code)
	assert.True(t, errorsx.Terminal(err))
	assert.Equal(t, StateClosed, s.State())
}

func TestRunBeforeStartFails(t *testing.T) {
	s := NewSession(newFakeConn(), testConfig(), discardLogger())
	err := s.Run(context.Background(), closedAudio())
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonSessionState))
}

func TestRunSurfacesOnlyChangedText(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	for _, f := range [][]byte{
		response("今天", false),
		response("今天", false),
		response("", false),
		response("今天天气", false),
		response("今天天气", true),
	} {
		fc.reads <- f
	}

	require.NoError(t, s.Run(context.Background(), closedAudio()))
	got := collect(s.Results())

	require.Len(t, got, 3)
	assert.Equal(t, Result{Text: "今天"}, got[0])
	assert.Equal(t, Result{Text: "今天天气"}, got[1])
	assert.Equal(t, "今天天气", got[2].Text)
	assert.True(t, got[2].Final)
	assert.Equal(t, "今天天气", s.LastText())
	assert.Equal(t, StateClosed, s.State())
}

func TestRunLookAheadMarksOnlyLastChunkFinal(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 6400),
		bytes.Repeat([]byte{2}, 6400),
		bytes.Repeat([]byte{3}, 6400),
	}
	// The server finishes once the final chunk is in.
	go func() {
		for {
			frames := fc.written()
			if len(frames) > 0 && frames[len(frames)-1].Flags.Has(protocol.FlagFinal) {
				fc.reads <- response("好", true)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	require.NoError(t, s.Run(context.Background(), closedAudio(chunks...)))

	audio := fc.written()[1:]
	require.Len(t, audio, 3)
	for i, f := range audio {
		assert.Equal(t, protocol.AudioOnlyRequest, f.Type)
		assert.Equal(t, chunks[i], f.Payload)
		assert.Equal(t, i == 2, f.Flags.Has(protocol.FlagFinal), "chunk %d", i)
	}
}

func TestRunEmptySourceSendsEmptyFinalChunk(t *testing.T) {
	fc := newFakeConn(response("", false), response("", true))
	s := startedSession(t, fc, testConfig())

	require.NoError(t, s.Run(context.Background(), closedAudio()))

	audio := fc.written()[1:]
	require.Len(t, audio, 1)
	assert.True(t, audio[0].Flags.Has(protocol.FlagFinal))
	assert.Empty(t, audio[0].Payload)
}

func TestRunGracePeriodEndsWithoutServerFinal(t *testing.T) {
	fc := newFakeConn(response("", false), response("部分", false))
	cfg := testConfig()
	cfg.GracePeriod = 150 * time.Millisecond
	s := startedSession(t, fc, cfg)

	start := time.Now()
	require.NoError(t, s.Run(context.Background(), closedAudio([]byte{0, 0})))
	assert.GreaterOrEqual(t, time.Since(start), cfg.GracePeriod)
	assert.Equal(t, "部分", s.LastText())
}

func TestRunDropsMalformedFrames(t *testing.T) {
	fc := newFakeConn(response("", false),
		[]byte{0x11, 0x90},
		[]byte{0x11, 0x90, 0x11, 0x00, 0x00, 0x00, 0x00, 0x05, 'n', 'o', 't', 'j', 's'},
		response("继续", true))
	s := startedSession(t, fc, testConfig())

	require.NoError(t, s.Run(context.Background(), closedAudio()))
	got := collect(s.Results())
	require.Len(t, got, 1)
	assert.Equal(t, Result{Text: "继续", Final: true}, got[0])
}

func TestRunRemoteErrorStopsBothTasks(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	fc.reads <- protocol.Marshal(protocol.Frame{
		Header:    protocol.NewHeader(protocol.ErrorResponse, protocol.FlagNone, protocol.SerializationJSON, protocol.CompressionNone),
		ErrorCode: 45000000,
		Payload:   []byte("invalid audio"),
	})

	audio := make(chan []byte)
	err := s.Run(context.Background(), audio)

	re, ok := protocol.AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid audio", re.Message)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonRemoteError))
	assert.Equal(t, StateClosed, s.State())
	select {
	case <-fc.closed:
	default:
		t.Fatalf("transport not closed")
	}
}

func TestRunTransportReadFailure(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	close(fc.reads)

	err := s.Run(context.Background(), make(chan []byte))
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransportRead))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRunTransportWriteFailure(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())
	fc.mu.Lock()
	fc.failWrite = 3
	fc.mu.Unlock()

	audio := make(chan []byte, 3)
	for i := 0; i < 3; i++ {
		audio <- bytes.Repeat([]byte{byte(i)}, 320)
	}

	start := time.Now()
	err := s.Run(context.Background(), audio)
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransportWrite))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateClosed, s.State())
	_, ok := <-s.Results()
	assert.False(t, ok)

	select {
	case <-fc.closed:
	default:
		t.Fatalf("transport left open after a failed write")
	}
}

func TestRunContextCancel(t *testing.T) {
	fc := newFakeConn(response("", false))
	s := startedSession(t, fc, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Run(ctx, make(chan []byte))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = s.Run(context.Background(), closedAudio())
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonSessionState))
}

func TestRunPacesChunks(t *testing.T) {
	fc := newFakeConn(response("", false))
	cfg := testConfig()
	cfg.ChunkInterval = 20 * time.Millisecond
	cfg.GracePeriod = 10 * time.Millisecond
	s := startedSession(t, fc, cfg)

	start := time.Now()
	require.NoError(t, s.Run(context.Background(), closedAudio([]byte{1}, []byte{2}, []byte{3}, []byte{4})))
	// Four chunks at 20ms spacing take at least three intervals.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_ack", StateAwaitingAck.String())
	assert.Equal(t, "state(9)", State(9).String())
}
