package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/astronerd/ghostype/pkg/metrics"
)

// LatencyObserver logs one summary line per session once it is done:
// first audio to first partial, first audio to final, and polish time.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	audioIn      time.Time
	firstPartial time.Time
	final        time.Time
	chunks       int
	bytes        float64
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.Event) {
	id := ""
	if ev.Tags != nil {
		id = ev.Tags[TagConnectID]
	}
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[id]
	if t == nil {
		t = &trace{}
		o.traces[id] = t
	}
	switch ev.Name {
	case metrics.EventAudioChunk:
		if t.audioIn.IsZero() {
			t.audioIn = ev.Time
		}
		t.chunks++
		t.bytes += ev.Value
	case metrics.EventPartial:
		if t.firstPartial.IsZero() {
			t.firstPartial = ev.Time
		}
	case metrics.EventFinal:
		if t.final.IsZero() {
			t.final = ev.Time
		}
	case metrics.EventSessionDone:
		o.log.Info("session_latency",
			"connect_id", id,
			"chunks", t.chunks,
			"audio_bytes", int64(t.bytes),
			"first_partial_ms", durationMs(t.audioIn, t.firstPartial),
			"final_ms", durationMs(t.audioIn, t.final),
		)
		delete(o.traces, id)
	case metrics.EventPolishDone:
		o.log.Info("polish_latency", "connect_id", id, "polish_ms", int64(ev.Value))
	}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
