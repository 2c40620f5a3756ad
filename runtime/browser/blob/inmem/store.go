// Package inmem provides an in-memory blob.Store for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"os"
	"sync"
)

type (
	// Store keeps payloads in a map keyed by URI. It records which write
	// path was used so tests can assert that file-backed payloads are
	// handed to WriteFile rather than being read into memory upstream.
	Store struct {
		mu         sync.RWMutex
		objects    map[string][]byte
		fileWrites map[string]string
	}
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		objects:    make(map[string][]byte),
		fileWrites: make(map[string]string),
	}
}

// WriteBytes implements blob.Store.
func (s *Store) WriteBytes(_ context.Context, uri string, data []byte) error {
	if uri == "" {
		return errors.New("uri is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = append([]byte(nil), data...)
	return nil
}

// WriteFile implements blob.Store.
func (s *Store) WriteFile(_ context.Context, uri string, path string) error {
	if uri == "" {
		return errors.New("uri is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = data
	s.fileWrites[uri] = path
	return nil
}

// Get returns the payload stored at uri.
func (s *Store) Get(uri string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[uri]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// FileWrite returns the local path handed to WriteFile for uri, if any.
func (s *Store) FileWrite(uri string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.fileWrites[uri]
	return path, ok
}

// Len returns the number of stored payloads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
