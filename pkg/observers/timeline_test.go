package observers

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astronerd/ghostype/pkg/metrics"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.Event{
		Name:   metrics.EventFinal,
		Time:   time.Now(),
		Tags:   map[string]string{TagConnectID: "conn/1"},
		Fields: map[string]any{"text": "hello"},
	})
	obs.RecordEvent(metrics.Event{Name: metrics.EventPartial, Time: time.Now()})
	require.NoError(t, obs.Close())

	path := obs.Path("conn/1")
	assert.Equal(t, filepath.Join(dir, "conn_1.jsonl"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"event":"asr_final"`)
	assert.Contains(t, lines[0], `"connect_id":"conn/1"`)
}

func TestTimelineObserverRedactsText(t *testing.T) {
	prev := redact.Enabled()
	redact.SetEnabled(true)
	t.Cleanup(func() { redact.SetEnabled(prev) })

	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.Event{
		Name:   metrics.EventFinal,
		Time:   time.Now(),
		Tags:   map[string]string{TagConnectID: "c"},
		Fields: map[string]any{"text": "call me at alice@example.com"},
	})
	require.NoError(t, obs.Close())

	b, err := os.ReadFile(obs.Path("c"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "alice@example.com")
}

func TestLatencyObserverLogsOnDone(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))
	start := time.Now()
	tags := map[string]string{TagConnectID: "c1"}

	obs.RecordEvent(metrics.Event{Name: metrics.EventAudioChunk, Time: start, Value: 6400, Tags: tags})
	obs.RecordEvent(metrics.Event{Name: metrics.EventPartial, Time: start.Add(120 * time.Millisecond), Tags: tags})
	obs.RecordEvent(metrics.Event{Name: metrics.EventFinal, Time: start.Add(900 * time.Millisecond), Tags: tags})
	assert.Empty(t, buf.String())

	obs.RecordEvent(metrics.Event{Name: metrics.EventSessionDone, Time: start.Add(time.Second), Tags: tags})
	out := buf.String()
	assert.Contains(t, out, "session_latency")
	assert.Contains(t, out, "first_partial_ms=120")
	assert.Contains(t, out, "final_ms=900")
	assert.Contains(t, out, "audio_bytes=6400")
}

func TestPurgeArtifacts(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))

	removed, err := PurgeArtifacts(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)

	removed, err = PurgeArtifacts(filepath.Join(dir, "missing"), time.Hour, now)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
