// Package memory implements an in-memory archive store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps archived objects in a map for inspection.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// FailWith, when set, makes every PutObject fail. Used to exercise the
	// archiver's non-fatal failure path.
	FailWith error
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutObject records data under path.
func (s *Store) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if s.FailWith != nil {
		return "", s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return fmt.Sprintf("mem://%s", path), nil
}

// Object returns the stored bytes for path.
func (s *Store) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len reports how many objects were stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
