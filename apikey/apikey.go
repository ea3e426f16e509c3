// Package apikey issues and verifies opaque API keys for machine callers.
// A key is handed out exactly once at creation; the store keeps only the
// SHA-256 of its secret half.
package apikey

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/id"
)

// ErrInvalidKey is returned for keys that fail structural decoding, match
// no record, or do not match the stored hash.
var ErrInvalidKey = errors.New("invalid api key")

// ErrRevoked is returned when the key exists but was revoked.
var ErrRevoked = errors.New("api key revoked")

// ErrExpired is returned when the key is past its expiry.
var ErrExpired = errors.New("api key expired")

// ErrNotFound is returned by stores when no record exists for a key ID.
var ErrNotFound = errors.New("api key not found")

// Key is the stored record of one API key.
type Key struct {
	ID     id.APIKeyID
	UserID id.UserID

	Name  string
	Roles []string

	SecretHash [32]byte

	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

func (k *Key) clone() *Key {
	cp := *k
	cp.Roles = append([]string(nil), k.Roles...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// Store persists key records.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, key *Key) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, kid id.APIKeyID) (*Key, error)

	// Touch updates LastUsedAt. Best effort; losing a touch is harmless.
	Touch(ctx context.Context, kid id.APIKeyID, at time.Time) error

	// Revoke marks the key revoked. Revoking an absent key is not an
	// error.
	Revoke(ctx context.Context, kid id.APIKeyID, at time.Time) error

	// ListByUser returns every record of one user, revoked included.
	ListByUser(ctx context.Context, uid id.UserID) ([]*Key, error)
}
