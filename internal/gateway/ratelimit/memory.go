package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process CounterStore for single-node deployments and
// tests. Expiry is evaluated lazily on access.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a memory store with an injectable clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		entries: make(map[string]*memoryEntry),
	}
}

// live returns the entry for key if present and not expired, pruning it
// otherwise. Must be called with the mutex held.
func (s *MemoryStore) live(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	return s.incrBy(key, 1)
}

func (s *MemoryStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	return s.incrBy(key, n)
}

func (s *MemoryStore) incrBy(key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	e.value += n
	return e.value, nil
}

func (s *MemoryStore) GetInt64(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return e.value, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.live(key); e != nil {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}
