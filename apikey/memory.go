package apikey

import (
	"context"
	"sync"
	"time"

	"github.com/gopress-cms/auth/id"
)

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu     sync.Mutex
	keys   map[id.APIKeyID]*Key
	byUser map[id.UserID][]id.APIKeyID
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:   make(map[id.APIKeyID]*Key),
		byUser: make(map[id.UserID][]id.APIKeyID),
	}
}

func (s *MemoryStore) Create(ctx context.Context, key *Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := key.clone()
	s.keys[cp.ID] = cp
	s.byUser[cp.UserID] = append(s.byUser[cp.UserID], cp.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, kid id.APIKeyID) (*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[kid]
	if !ok {
		return nil, ErrNotFound
	}
	return key.clone(), nil
}

func (s *MemoryStore) Touch(ctx context.Context, kid id.APIKeyID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[kid]; ok {
		t := at
		key.LastUsedAt = &t
	}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, kid id.APIKeyID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[kid]; ok && key.RevokedAt == nil {
		t := at
		key.RevokedAt = &t
	}
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, uid id.UserID) ([]*Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Key, 0, len(s.byUser[uid]))
	for _, kid := range s.byUser[uid] {
		if key, ok := s.keys[kid]; ok {
			out = append(out, key.clone())
		}
	}
	return out, nil
}
