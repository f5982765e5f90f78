// Package journal implements the Journal & Snapshot Store (C1): an append-only
// ordered sequence of world events, periodic state snapshots with retention, and
// atomic-rename disk persistence (spec.md §4.1).
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"worldsim/internal/worldtypes"
)

// ErrNonMonotonicAppend guards the journal's core ordering invariant.
var ErrNonMonotonicAppend = errors.New("journal: event id is not strictly increasing")

// Journal is an in-memory append-only event log, persisted via SaveJSON/LoadJSON.
type Journal struct {
	events []worldtypes.Event
}

func New() *Journal {
	return &Journal{}
}

// Len reports the current journal length.
func (j *Journal) Len() int { return len(j.events) }

// At returns the event at index i (0-based).
func (j *Journal) At(i int) worldtypes.Event { return j.events[i] }

// Slice returns events in [from, to).
func (j *Journal) Slice(from, to int) []worldtypes.Event {
	return append([]worldtypes.Event(nil), j.events[from:to]...)
}

// All returns every journaled event.
func (j *Journal) All() []worldtypes.Event {
	return append([]worldtypes.Event(nil), j.events...)
}

// Append appends in O(1) amortized and enforces strictly increasing event ids.
func (j *Journal) Append(ev worldtypes.Event) error {
	if len(j.events) > 0 {
		last := j.events[len(j.events)-1]
		if ev.ID <= last.ID {
			return fmt.Errorf("%w: last=%d new=%d", ErrNonMonotonicAppend, last.ID, ev.ID)
		}
	}
	j.events = append(j.events, ev)
	return nil
}

// Truncate drops the suffix from index length onward. Used only during rollback
// (spec.md §4.5 rollback_to_snapshot).
func (j *Journal) Truncate(length int) error {
	if length < 0 || length > len(j.events) {
		return fmt.Errorf("journal: truncate length %d out of range [0,%d]", length, len(j.events))
	}
	j.events = j.events[:length]
	return nil
}

// SaveJSON round-trips the full journal losslessly to path via atomic rename.
func (j *Journal) SaveJSON(path string) error {
	data, err := json.Marshal(j.events)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	return atomicWrite(path, data)
}

// LoadJSON restores a journal from a file written by SaveJSON.
func LoadJSON(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("journal: read: %w", err)
	}
	var events []worldtypes.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("journal: unmarshal: %w", err)
	}
	return &Journal{events: events}, nil
}

// atomicWrite writes to a temp path in the same directory then renames over dst, so a
// crash mid-write never leaves a partially-written file at dst (spec.md §4.1).
func atomicWrite(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("journal: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}
