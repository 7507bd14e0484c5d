// Package memory provides an in-process storage.Store for development and tests.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/teemow/sitekit/internal/storage"
)

// Store keeps values in a map guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[string][]byte)}
}

var _ storage.Store = (*Store)(nil)

// Get implements storage.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set implements storage.Store.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = bytes.Clone(value)
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// CompareAndSwap implements storage.Store.
func (s *Store) CompareAndSwap(_ context.Context, key string, prev, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.values[key]
	switch {
	case prev == nil && ok:
		return false, nil
	case prev != nil && (!ok || !bytes.Equal(cur, prev)):
		return false, nil
	}

	if next == nil {
		delete(s.values, key)
	} else {
		s.values[key] = bytes.Clone(next)
	}
	return true, nil
}

// Ping implements storage.Store.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
