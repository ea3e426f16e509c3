package session

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/id"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrStoreUnavailable reports a transient backend failure, distinct from an
// authentication decision.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store persists sessions. The TTL passed to Save bounds how long the
// backend keeps the record; liveness decisions beyond that belong to the
// Manager.
type Store interface {
	// Save writes the session, replacing any previous record, and arms the
	// backend TTL.
	Save(ctx context.Context, sess *Session, ttl time.Duration) error

	// Get returns the stored session or ErrNotFound.
	Get(ctx context.Context, sid id.SessionID) (*Session, error)

	// Delete removes the session. Deleting an absent session is not an
	// error.
	Delete(ctx context.Context, sid id.SessionID) error

	// DeleteAllForUser removes every session of one user and reports how
	// many were live at the time.
	DeleteAllForUser(ctx context.Context, uid id.UserID) (int, error)

	// IDsForUser lists the tracked session IDs of one user.
	IDsForUser(ctx context.Context, uid id.UserID) ([]id.SessionID, error)
}
