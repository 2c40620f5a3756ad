// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (for example features/session/mongo).
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"goa.design/webrun/runtime/browser/session"
)

type (
	// Store is an in-memory implementation of session.Store. It is safe
	// for concurrent use; the claim in Occupy is checked and applied under
	// a single lock acquisition, mirroring the conditional-update
	// semantics of durable backends.
	Store struct {
		mu       sync.RWMutex
		sessions map[string]session.Session
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]session.Session)}
}

// Create implements session.Store.
func (s *Store) Create(_ context.Context, in session.Session) (session.Session, error) {
	if in.ID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	if in.OrganizationID == "" {
		return session.Session{}, errors.New("organization id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[in.ID]; ok {
		return session.Session{}, errors.New("session already exists")
	}
	s.sessions[in.ID] = clone(in)
	return clone(in), nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, sessionID, orgID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok || existing.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	return clone(existing), nil
}

// Occupy implements session.Store. The check and the write happen under one
// lock so that exactly one of any set of concurrent claimants wins.
func (s *Store) Occupy(_ context.Context, sessionID, orgID string, rt session.RunnableType, runnableID string, now time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok || existing.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	if existing.Occupied() {
		if !existing.HeldBy(rt, runnableID) {
			return session.Session{}, session.ErrConflict
		}
		// Idempotent re-claim by the holder keeps the original start.
		if existing.StartedAt == nil {
			at := now.UTC()
			existing.StartedAt = &at
		}
		existing.Status = session.StatusRunning
		s.sessions[sessionID] = existing
		return clone(existing), nil
	}
	at := now.UTC()
	existing.Status = session.StatusRunning
	existing.RunnableType = rt
	existing.RunnableID = &runnableID
	existing.StartedAt = &at
	s.sessions[sessionID] = existing
	return clone(existing), nil
}

// Bind implements session.Store.
func (s *Store) Bind(_ context.Context, sessionID, orgID string, rt session.RunnableType, runnableID string, now time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok || existing.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	if existing.Occupied() && !existing.HeldBy(rt, runnableID) {
		return session.Session{}, session.ErrConflict
	}
	existing.RunnableType = rt
	existing.RunnableID = &runnableID
	if existing.StartedAt == nil {
		at := now.UTC()
		existing.StartedAt = &at
	}
	existing.Status = session.StatusRunning
	s.sessions[sessionID] = existing
	return clone(existing), nil
}

// MarkStarted implements session.Store.
func (s *Store) MarkStarted(_ context.Context, sessionID, orgID string, now time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok || existing.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	if existing.Occupied() && existing.StartedAt == nil {
		at := now.UTC()
		existing.StartedAt = &at
		existing.Status = session.StatusRunning
		s.sessions[sessionID] = existing
	}
	return clone(existing), nil
}

// Release implements session.Store.
func (s *Store) Release(_ context.Context, sessionID, orgID string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok || existing.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	existing.Status = session.StatusAvailable
	existing.RunnableType = ""
	existing.RunnableID = nil
	existing.StartedAt = nil
	s.sessions[sessionID] = existing
	return clone(existing), nil
}

// List implements session.Store. Results are ordered newest first; ties on
// creation time break on session ID for stable pagination.
func (s *Store) List(_ context.Context, orgID string, status *session.Status, page, pageSize int) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, existing := range s.sessions {
		if existing.OrganizationID != orgID {
			continue
		}
		if status != nil && existing.Status != *status {
			continue
		}
		out = append(out, clone(existing))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if pageSize <= 0 {
		return out, nil
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(out) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

// Reset clears all stored sessions. Useful in tests to isolate cases; not
// part of the session.Store interface.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]session.Session)
}

func clone(in session.Session) session.Session {
	out := in
	if in.RunnableID != nil {
		id := *in.RunnableID
		out.RunnableID = &id
	}
	if in.StartedAt != nil {
		at := *in.StartedAt
		out.StartedAt = &at
	}
	return out
}
