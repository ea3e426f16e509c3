package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/gopress-cms/auth/id"
)

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	mu       sync.Mutex
	tokens   map[id.TokenID]*Token
	byFamily map[id.FamilyID][]id.TokenID
	byUser   map[id.UserID][]id.TokenID
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:   make(map[id.TokenID]*Token),
		byFamily: make(map[id.FamilyID][]id.TokenID),
		byUser:   make(map[id.UserID][]id.TokenID),
	}
}

func (s *MemoryStore) Create(ctx context.Context, tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := tok.clone()
	s.tokens[cp.ID] = cp
	s.byFamily[cp.FamilyID] = append(s.byFamily[cp.FamilyID], cp.ID)
	s.byUser[cp.UserID] = append(s.byUser[cp.UserID], cp.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tid id.TokenID) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tid]
	if !ok {
		return nil, ErrNotFound
	}
	return tok.clone(), nil
}

func (s *MemoryStore) Claim(ctx context.Context, tid id.TokenID, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[tid]
	if !ok {
		return false, ErrNotFound
	}
	if tok.UsedAt != nil {
		return false, nil
	}
	u := usedAt
	tok.UsedAt = &u
	return true, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, tid id.TokenID, reason RevokeReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[tid]; ok && revocable(tok.RevokeReason, reason) {
		r := reason
		tok.RevokeReason = &r
	}
	return nil
}

func (s *MemoryStore) RevokeFamily(ctx context.Context, fid id.FamilyID, reason RevokeReason) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, tid := range s.byFamily[fid] {
		tok, ok := s.tokens[tid]
		if !ok || !revocable(tok.RevokeReason, reason) {
			continue
		}
		r := reason
		tok.RevokeReason = &r
		n++
	}
	return n, nil
}

// revocable reports whether a record with the current reason may take the
// new one. A theft burn additionally overwrites Rotated members so the
// whole lineage, spent links included, ends up marked stolen.
func revocable(current *RevokeReason, next RevokeReason) bool {
	if current == nil {
		return true
	}
	return next == ReasonTheftDetected && *current == ReasonRotated
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, uid id.UserID, reason RevokeReason) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, tid := range s.byUser[uid] {
		tok, ok := s.tokens[tid]
		if !ok || tok.RevokeReason != nil {
			continue
		}
		r := reason
		tok.RevokeReason = &r
		n++
	}
	return n, nil
}
