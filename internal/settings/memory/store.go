// Package memory provides an in-memory settings.Store implementation.
package memory

import (
	"context"
	"strings"
	"sync"

	"weavequery/internal/settings"
)

// Store is an in-memory settings.Store.
// Intended for testing and one-shot CLI runs. Nothing is persisted across restarts.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ settings.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

func (s *Store) Get(ctx context.Context, key string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for k, v := range s.values {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
