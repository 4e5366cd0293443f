// Package memory is an in-process CounterStore.
package memory

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/replyengine/internal/store"
)

// Store keeps counters in a map guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[string]store.Counters
}

func New() *Store {
	return &Store{data: make(map[string]store.Counters)}
}

func (s *Store) Get(_ context.Context, key string) (store.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data[key]
	if !ok {
		return store.Counters{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) Set(_ context.Context, key string, c store.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = c
	return nil
}

func (s *Store) Update(_ context.Context, key string, fn func(store.Counters) store.Counters) (store.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := fn(s.data[key])
	s.data[key] = c
	return c, nil
}

func (s *Store) Close() error { return nil }
