package storage

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore is a non-durable Store used by tests and as the degraded
// fallback when no durable backend can be opened.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte

	// FailWrites makes Set return an error, simulating quota exhaustion.
	FailWrites bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errWriteFailed
	}
	s.slots[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.slots, key)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var errWriteFailed = errors.New("storage: write failed")
