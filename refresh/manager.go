package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/internal/secret"
	"github.com/gopress-cms/auth/metrics"
	"github.com/gopress-cms/auth/token"
)

// ErrInvalidToken is returned for tokens that fail verification, match no
// record, or do not match the stored hash.
var ErrInvalidToken = errors.New("invalid refresh token")

// ErrExpired is returned for tokens past their lifetime.
var ErrExpired = errors.New("refresh token expired")

// ErrReuseDetected is returned when an already-rotated token is presented.
// By the time the caller sees it, the whole family has been revoked.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// ErrRevoked is returned when the presented token was revoked.
var ErrRevoked = errors.New("refresh token revoked")

// Manager implements the rotation protocol. Tokens are signed JWTs whose
// jti names the record; the record keeps only a hash of the signed string.
type Manager struct {
	store   Store
	tokens  *token.Manager
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

// NewManager wires the record store to the token signer.
func NewManager(store Store, tokens *token.Manager, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("nil refresh store")
	}
	if tokens == nil {
		return nil, errors.New("nil token manager")
	}
	m := &Manager{store: store, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue starts a new token family for the user, typically at login. The
// returned pair carries the only copy of the refresh token that will ever
// exist; the store keeps its hash.
func (m *Manager) Issue(ctx context.Context, userID id.UserID, roles []string) (token.Pair, *Token, error) {
	return m.mint(ctx, userID, roles, nil)
}

// Rotate exchanges a refresh token for a fresh pair. The presented token is
// retired; presenting it again revokes the family and reports reuse.
func (m *Manager) Rotate(ctx context.Context, presented string) (token.Pair, *Token, error) {
	claims, err := m.tokens.Verify(presented, token.TypeRefresh)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return token.Pair{}, nil, ErrExpired
		default:
			return token.Pair{}, nil, ErrInvalidToken
		}
	}

	tid, err := claims.TokenID()
	if err != nil {
		return token.Pair{}, nil, ErrInvalidToken
	}

	rec, err := m.store.Get(ctx, tid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, nil, ErrInvalidToken
		}
		return token.Pair{}, nil, err
	}

	if !secret.Equal(rec.SecretHash, secret.HashBytes([]byte(presented))) {
		return token.Pair{}, nil, ErrInvalidToken
	}

	now := m.now().UTC()
	if !rec.ExpiresAt.After(now) {
		if rec.RevokeReason == nil {
			// Best effort; the expiry check above is the gate.
			_ = m.store.Revoke(ctx, rec.ID, ReasonExpired)
		}
		return token.Pair{}, nil, ErrExpired
	}
	if rec.RevokeReason != nil {
		switch *rec.RevokeReason {
		case ReasonTheftDetected:
			return token.Pair{}, nil, ErrReuseDetected
		case ReasonRotated:
			// A rotated token is only ever presented once in its lifetime;
			// seeing it again means it was copied. Burn the lineage.
			return token.Pair{}, nil, m.burnFamily(ctx, rec)
		default:
			return token.Pair{}, nil, ErrRevoked
		}
	}

	won, err := m.store.Claim(ctx, rec.ID, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, nil, ErrInvalidToken
		}
		return token.Pair{}, nil, err
	}
	if !won {
		// Lost the claim race against a concurrent rotation of the same
		// token; that is still a second presentation.
		return token.Pair{}, nil, m.burnFamily(ctx, rec)
	}

	if err := m.store.Revoke(ctx, rec.ID, ReasonRotated); err != nil {
		return token.Pair{}, nil, err
	}

	pair, child, err := m.mintChild(ctx, rec, claims.Roles)
	if err != nil {
		return token.Pair{}, nil, err
	}

	m.count(metrics.RefreshSuccess)
	m.emit(audit.Event{
		EventType: audit.EventRefreshSuccess,
		Severity:  audit.SeverityInfo,
		UserID:    rec.UserID.String(),
		Success:   true,
		Metadata: map[string]string{
			"parent_id": rec.ID.String(),
			"token_id":  child.ID.String(),
			"family_id": rec.FamilyID.String(),
		},
	})
	return pair, child, nil
}

// burnFamily revokes every member of rec's family as stolen and returns
// ErrReuseDetected, or the store error if the burn itself failed.
func (m *Manager) burnFamily(ctx context.Context, rec *Token) error {
	if _, err := m.store.RevokeFamily(ctx, rec.FamilyID, ReasonTheftDetected); err != nil {
		return err
	}
	m.count(metrics.RefreshReuseDetected)
	m.count(metrics.FamilyRevoked)
	m.emit(audit.Event{
		EventType: audit.EventReuseDetected,
		Severity:  audit.SeverityCritical,
		UserID:    rec.UserID.String(),
		Metadata: map[string]string{
			"token_id":  rec.ID.String(),
			"family_id": rec.FamilyID.String(),
		},
	})
	m.emit(audit.Event{
		EventType: audit.EventFamilyRevoked,
		Severity:  audit.SeverityCritical,
		UserID:    rec.UserID.String(),
		Metadata:  map[string]string{"family_id": rec.FamilyID.String()},
	})
	return ErrReuseDetected
}

// Revoke retires one token, e.g. on logout.
func (m *Manager) Revoke(ctx context.Context, tid id.TokenID, reason RevokeReason) error {
	return m.store.Revoke(ctx, tid, reason)
}

// RevokeFamily retires an entire lineage and reports how many tokens were
// live.
func (m *Manager) RevokeFamily(ctx context.Context, fid id.FamilyID, reason RevokeReason) (int, error) {
	return m.store.RevokeFamily(ctx, fid, reason)
}

// RevokeAllForUser retires every token of one user across all families.
func (m *Manager) RevokeAllForUser(ctx context.Context, uid id.UserID, reason RevokeReason) (int, error) {
	return m.store.RevokeAllForUser(ctx, uid, reason)
}

func (m *Manager) mint(ctx context.Context, userID id.UserID, roles []string, parent *Token) (token.Pair, *Token, error) {
	tid, err := id.NewToken()
	if err != nil {
		return token.Pair{}, nil, err
	}

	pair, err := m.tokens.Issue(userID, roles, tid)
	if err != nil {
		return token.Pair{}, nil, err
	}

	now := m.now().UTC()
	rec := &Token{
		ID:         tid,
		UserID:     userID,
		SecretHash: secret.HashBytes([]byte(pair.RefreshToken)),
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.tokens.RefreshTTL()),
	}
	if parent != nil {
		pid := parent.ID
		rec.ParentID = &pid
		rec.FamilyID = parent.FamilyID
	} else {
		fid, err := id.NewFamily()
		if err != nil {
			return token.Pair{}, nil, err
		}
		rec.FamilyID = fid
	}

	if err := m.store.Create(ctx, rec); err != nil {
		return token.Pair{}, nil, err
	}
	if parent == nil {
		m.count(metrics.TokenIssued)
	}
	return pair, rec, nil
}

func (m *Manager) mintChild(ctx context.Context, parent *Token, roles []string) (token.Pair, *Token, error) {
	return m.mint(ctx, parent.UserID, roles, parent)
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
