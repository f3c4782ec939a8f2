// Package observers turns session events into artifacts and log lines.
package observers

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/astronerd/ghostype/pkg/metrics"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/bytedance/sonic"
)

// TagConnectID keys events to a recognition session.
const TagConnectID = "connect_id"

// TimelineObserver writes one JSONL timeline per session into dir.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

func (o *TimelineObserver) RecordEvent(ev metrics.Event) {
	id := ""
	if ev.Tags != nil {
		id = ev.Tags[TagConnectID]
	}
	if id == "" || strings.TrimSpace(o.dir) == "" {
		return
	}
	entry := timelineEvent{
		Time:      ev.Time.UTC(),
		Event:     ev.Name,
		ConnectID: id,
		Value:     ev.Value,
		Fields:    sanitizeFields(ev.Fields),
	}
	line, err := sonic.Marshal(entry)
	if err != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileForLocked(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Path returns where the timeline for id is written.
func (o *TimelineObserver) Path(id string) string {
	return filepath.Join(o.dir, sanitizeID(id)+".jsonl")
}

func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

type timelineEvent struct {
	Time      time.Time      `json:"time"`
	Event     string         `json:"event"`
	ConnectID string         `json:"connect_id"`
	Value     float64        `json:"value,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (o *TimelineObserver) fileForLocked(id string) *os.File {
	safe := sanitizeID(id)
	if safe == "" {
		return nil
	}
	if f := o.files[safe]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, safe+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[safe] = f
	return f
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// Transcript text passes through redact so timelines follow the privacy
// setting.
func sanitizeFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
