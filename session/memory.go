package session

import (
	"context"
	"sync"
	"time"

	"github.com/gopress-cms/auth/id"
)

type memEntry struct {
	sess      *Session
	expiresAt time.Time
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests. Expired entries are reaped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[id.SessionID]memEntry
	byUser   map[id.UserID]map[id.SessionID]struct{}
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[id.SessionID]memEntry),
		byUser:   make(map[id.UserID]map[id.SessionID]struct{}),
		now:      time.Now,
	}
}

// WithClock overrides the store clock for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = memEntry{sess: sess.clone(), expiresAt: s.now().Add(ttl)}
	set, ok := s.byUser[sess.UserID]
	if !ok {
		set = make(map[id.SessionID]struct{})
		s.byUser[sess.UserID] = set
	}
	set[sess.ID] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sid id.SessionID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.After(s.now()) {
		s.remove(sid, e.sess.UserID)
		return nil, ErrNotFound
	}
	return e.sess.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, sid id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[sid]; ok {
		s.remove(sid, e.sess.UserID)
	}
	return nil
}

func (s *MemoryStore) DeleteAllForUser(ctx context.Context, uid id.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var live int
	for sid := range s.byUser[uid] {
		if e, ok := s.sessions[sid]; ok {
			if e.expiresAt.After(now) {
				live++
			}
			delete(s.sessions, sid)
		}
	}
	delete(s.byUser, uid)
	return live, nil
}

func (s *MemoryStore) IDsForUser(ctx context.Context, uid id.UserID) ([]id.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]id.SessionID, 0, len(s.byUser[uid]))
	for sid := range s.byUser[uid] {
		if e, ok := s.sessions[sid]; ok && e.expiresAt.After(now) {
			ids = append(ids, sid)
		}
	}
	return ids, nil
}

// remove assumes the caller holds the mutex.
func (s *MemoryStore) remove(sid id.SessionID, uid id.UserID) {
	delete(s.sessions, sid)
	if set, ok := s.byUser[uid]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(s.byUser, uid)
		}
	}
}
