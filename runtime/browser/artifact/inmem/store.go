// Package inmem provides an in-memory artifact.RecordStore for tests and
// local development.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"

	"goa.design/webrun/runtime/browser/artifact"
)

// Store is an in-memory implementation of artifact.RecordStore. It is safe
// for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records map[string]artifact.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]artifact.Record)}
}

// Create implements artifact.RecordStore.
func (s *Store) Create(_ context.Context, rec artifact.Record) (artifact.Record, error) {
	if rec.ID == "" {
		return artifact.Record{}, errors.New("artifact id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return artifact.Record{}, errors.New("artifact already exists")
	}
	s.records[rec.ID] = rec
	return rec, nil
}

// List implements artifact.RecordStore. Results are ordered newest first;
// ties on creation time break on artifact ID.
func (s *Store) List(_ context.Context, f artifact.Filter) ([]artifact.Record, error) {
	if f.OrganizationID == "" {
		return nil, errors.New("organization id is required")
	}
	var allowed map[artifact.Type]struct{}
	if len(f.Types) > 0 {
		allowed = make(map[artifact.Type]struct{}, len(f.Types))
		for _, t := range f.Types {
			allowed[t] = struct{}{}
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]artifact.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.OrganizationID != f.OrganizationID {
			continue
		}
		if f.TaskID != "" && rec.TaskID != f.TaskID {
			continue
		}
		if f.WorkflowRunID != "" && rec.WorkflowRunID != f.WorkflowRunID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[rec.Type]; !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Reset clears all stored records. Useful in tests; not part of the
// artifact.RecordStore interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]artifact.Record)
}
