// Package metrics carries session events from the recognition pipeline to
// observers.
package metrics

import "time"

// Event names emitted by a recognition run.
const (
	EventAudioChunk  = "audio_chunk"
	EventPartial     = "asr_partial"
	EventFinal       = "asr_final"
	EventSessionDone = "asr_done"
	EventPolishDone  = "polish_done"
)

type Event struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// Multi fans an event out to every non-nil observer in order.
type Multi []Observer

func (m Multi) RecordEvent(ev Event) {
	for _, obs := range m {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
