package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/internal/secret"
	"github.com/gopress-cms/auth/metrics"
)

// Manager owns API key lifecycle. The plaintext key exists only in the
// return value of Create.
type Manager struct {
	store   Store
	auditor *audit.Dispatcher
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAudit attaches an audit dispatcher.
func WithAudit(d *audit.Dispatcher) Option {
	return func(m *Manager) { m.auditor = d }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithClock overrides the clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wraps a Store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("nil api key store")
	}
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create mints a key for the user. ttl of zero means the key never expires.
// The returned plaintext is the only copy; store it client-side.
func (m *Manager) Create(ctx context.Context, uid id.UserID, name string, roles []string, ttl time.Duration) (string, *Key, error) {
	kid, err := id.NewAPIKey()
	if err != nil {
		return "", nil, err
	}
	sec, err := secret.New()
	if err != nil {
		return "", nil, err
	}

	now := m.now().UTC()
	key := &Key{
		ID:         kid,
		UserID:     uid,
		Name:       name,
		Roles:      append([]string(nil), roles...),
		SecretHash: secret.Hash(sec),
		CreatedAt:  now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		key.ExpiresAt = &exp
	}

	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return secret.EncodeToken(kid.UUID(), sec), key, nil
}

// Verify resolves a presented key to its record. The hash comparison is
// constant time; structural failures, unknown IDs, and hash mismatches all
// collapse into ErrInvalidKey so callers cannot probe which half failed.
func (m *Manager) Verify(ctx context.Context, presented string) (*Key, error) {
	raw, sec, err := secret.DecodeToken(presented)
	if err != nil {
		m.reject("")
		return nil, ErrInvalidKey
	}
	kid := id.APIKeyFromUUID(raw)

	key, err := m.store.Get(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.reject("")
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	if !secret.Equal(key.SecretHash, secret.Hash(sec)) {
		m.reject(key.UserID.String())
		return nil, ErrInvalidKey
	}

	now := m.now().UTC()
	if key.RevokedAt != nil {
		m.reject(key.UserID.String())
		return nil, ErrRevoked
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(now) {
		m.reject(key.UserID.String())
		return nil, ErrExpired
	}

	if err := m.store.Touch(ctx, key.ID, now); err == nil {
		key.LastUsedAt = &now
	}

	m.count(metrics.APIKeyAccepted)
	m.emit(audit.Event{
		EventType: audit.EventAPIKeyAccepted,
		Severity:  audit.SeverityInfo,
		UserID:    key.UserID.String(),
		Success:   true,
		Metadata:  map[string]string{"key_id": key.ID.String()},
	})
	return key, nil
}

// Revoke takes a key out of circulation immediately.
func (m *Manager) Revoke(ctx context.Context, kid id.APIKeyID) error {
	return m.store.Revoke(ctx, kid, m.now().UTC())
}

// ListForUser returns all keys of one user, revoked included.
func (m *Manager) ListForUser(ctx context.Context, uid id.UserID) ([]*Key, error) {
	return m.store.ListByUser(ctx, uid)
}

func (m *Manager) reject(userID string) {
	m.count(metrics.APIKeyRejected)
	m.emit(audit.Event{
		EventType: audit.EventAPIKeyRejected,
		Severity:  audit.SeverityWarning,
		UserID:    userID,
	})
}

func (m *Manager) emit(e audit.Event) {
	if m.auditor != nil {
		m.auditor.Emit(context.Background(), e)
	}
}

func (m *Manager) count(mid metrics.ID) {
	if m.metrics != nil {
		m.metrics.Inc(mid)
	}
}
