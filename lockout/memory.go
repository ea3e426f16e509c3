package lockout

import (
	"context"
	"sync"
	"time"
)

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu       sync.Mutex
	failures map[string]memCounter
	strikes  map[string]memCounter
	locks    map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		failures: make(map[string]memCounter),
		strikes:  make(map[string]memCounter),
		locks:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// WithClock overrides the store clock for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func incr(m map[string]memCounter, key string, ttl time.Duration, now time.Time) int64 {
	c, ok := m[key]
	if !ok || !c.expiresAt.After(now) {
		m[key] = memCounter{count: 1, expiresAt: now.Add(ttl)}
		return 1
	}
	c.count++
	m[key] = c
	return c.count
}

func (s *MemoryStore) IncrFailures(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incr(s.failures, key, window, s.now()), nil
}

func (s *MemoryStore) GetFailures(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.failures[key]
	if !ok || !c.expiresAt.After(s.now()) {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) ResetFailures(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	return nil
}

func (s *MemoryStore) IncrStrikes(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incr(s.strikes, key, ttl, s.now()), nil
}

func (s *MemoryStore) SetLock(ctx context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[key] = until
	return nil
}

func (s *MemoryStore) GetLock(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.locks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *MemoryStore) ClearLock(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}
