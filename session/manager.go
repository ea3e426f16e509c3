package session

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/id"
)

// Config tunes session lifetimes.
type Config struct {
	// IdleTimeout is the sliding window: each authenticated access pushes
	// the expiry forward by this much.
	IdleTimeout time.Duration

	// AbsoluteTimeout caps the total session lifetime regardless of
	// activity.
	AbsoluteTimeout time.Duration

	// Now overrides the clock for deterministic tests.
	Now func() time.Time
}

// Attributes describe the client context captured at session creation.
type Attributes struct {
	Roles     []string
	Data      map[string]string
	IP        string
	UserAgent string
}

// Manager owns session lifecycle: creation, sliding renewal capped by the
// absolute deadline, and invalidation. Expired sessions are never renewed;
// a lookup past either deadline deletes the record and reports ErrNotFound.
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewManager validates the configuration and returns a Manager.
func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("nil session store")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, errors.New("idle timeout must be positive")
	}
	if cfg.AbsoluteTimeout < cfg.IdleTimeout {
		return nil, errors.New("absolute timeout must be >= idle timeout")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, cfg: cfg, now: now}, nil
}

// Create starts a new session for the user and persists it.
func (m *Manager) Create(ctx context.Context, uid id.UserID, attrs Attributes) (*Session, error) {
	sid, err := id.NewSession()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sess := &Session{
		ID:         sid,
		UserID:     uid,
		Roles:      attrs.Roles,
		Data:       attrs.Data,
		IP:         attrs.IP,
		UserAgent:  attrs.UserAgent,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := m.store.Save(ctx, sess, m.ttl(sess, now)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a live session and slides its idle deadline forward. The slide
// never extends past the absolute deadline. Expired sessions are deleted on
// sight.
func (m *Manager) Get(ctx context.Context, sid id.SessionID) (*Session, error) {
	sess, err := m.store.Get(ctx, sid)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if !m.expiry(sess).After(now) {
		if err := m.store.Delete(ctx, sid); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	sess.LastSeenAt = now
	if err := m.store.Save(ctx, sess, m.ttl(sess, now)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Peek loads a session without sliding its idle deadline.
func (m *Manager) Peek(ctx context.Context, sid id.SessionID) (*Session, error) {
	sess, err := m.store.Get(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !m.expiry(sess).After(m.now().UTC()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Update persists modified session data without touching LastSeenAt.
func (m *Manager) Update(ctx context.Context, sess *Session) error {
	now := m.now().UTC()
	if !m.expiry(sess).After(now) {
		return ErrNotFound
	}
	return m.store.Save(ctx, sess, m.ttl(sess, now))
}

// Invalidate ends one session.
func (m *Manager) Invalidate(ctx context.Context, sid id.SessionID) error {
	return m.store.Delete(ctx, sid)
}

// InvalidateAllForUser ends every session of one user and reports how many
// were live.
func (m *Manager) InvalidateAllForUser(ctx context.Context, uid id.UserID) (int, error) {
	return m.store.DeleteAllForUser(ctx, uid)
}

// ActiveSessions lists the live session IDs of one user.
func (m *Manager) ActiveSessions(ctx context.Context, uid id.UserID) ([]id.SessionID, error) {
	return m.store.IDsForUser(ctx, uid)
}

// expiry is the earlier of the idle and absolute deadlines.
func (m *Manager) expiry(sess *Session) time.Time {
	idle := sess.LastSeenAt.Add(m.cfg.IdleTimeout)
	absolute := sess.CreatedAt.Add(m.cfg.AbsoluteTimeout)
	if absolute.Before(idle) {
		return absolute
	}
	return idle
}

// ttl converts the expiry into a backend TTL from now.
func (m *Manager) ttl(sess *Session, now time.Time) time.Duration {
	ttl := m.expiry(sess).Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
