// Package corpus keeps the raw transcripts a user dictated, so later
// processing can consume them level by level.
package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Entry is one transcript. ConsumedAtLevel is nil until consumed.
type Entry struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
	ConsumedAtLevel *int      `json:"consumed_at_level,omitempty"`
	AppID           string    `json:"app_id,omitempty"`
	AppName         string    `json:"app_name,omitempty"`
}

// Source names where a transcript was dictated.
type Source struct {
	AppID   string
	AppName string
}

// Store is an append-only JSONL file. Every change appends the full entry;
// on load the last line for an ID wins.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// Open prepares a store at path, creating its directory.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalid, "corpus: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("corpus: create dir: %w", err), errorsx.ReasonCorpusWrite)
	}
	return &Store{path: path, now: time.Now}, nil
}

func (s *Store) Path() string { return s.path }

// Append records a new unconsumed transcript.
func (s *Store) Append(text string, src Source) (Entry, error) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, errorsx.Newf(errorsx.ReasonCorpusWrite, "corpus: empty text")
	}
	e := Entry{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: s.now().UTC(),
		AppID:     src.AppID,
		AppName:   src.AppName,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// LoadAll returns every entry oldest first. A missing file is empty and
// corrupt lines are skipped.
func (s *Store) LoadAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Unconsumed returns the entries no level has consumed yet.
func (s *Store) Unconsumed() ([]Entry, error) {
	all, err := s.LoadAll()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.ConsumedAtLevel == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkConsumed sets the consuming level on the given entries. Unknown IDs
// are ignored.
func (s *Store) MarkConsumed(ids []string, level int) error {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range all {
		if _, ok := want[e.ID]; !ok {
			continue
		}
		lvl := level
		e.ConsumedAtLevel = &lvl
		if err := s.write(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) write(e Entry) error {
	line, err := sonic.Marshal(e)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("corpus: marshal: %w", err), errorsx.ReasonCorpusWrite)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("corpus: open: %w", err), errorsx.ReasonCorpusWrite)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return errorsx.Wrap(fmt.Errorf("corpus: write: %w", err), errorsx.ReasonCorpusWrite)
	}
	if err := f.Close(); err != nil {
		return errorsx.Wrap(fmt.Errorf("corpus: close: %w", err), errorsx.ReasonCorpusWrite)
	}
	return nil
}

func (s *Store) load() ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("corpus: open for read: %w", err)
	}
	defer f.Close()

	latest := make(map[string]Entry)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var e Entry
			if uerr := sonic.Unmarshal(line, &e); uerr == nil && e.ID != "" {
				latest[e.ID] = e
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corpus: read: %w", err)
		}
	}

	out := make([]Entry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
