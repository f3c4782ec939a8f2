package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	base := InitLogger(Config{Level: "debug", Format: "json"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	NewComponentLogger(base, "asr_session").Debug("frame_dropped", slog.Int("size", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if entry["component"] != "asr_session" {
		t.Fatalf("expected component attr, got %v", entry["component"])
	}
	if entry["msg"] != "frame_dropped" {
		t.Fatalf("unexpected msg %v", entry["msg"])
	}
}

func TestTextLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger(Config{Level: "warn"}, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}
