package refresh

import (
	"context"
	"errors"
	"time"

	"github.com/gopress-cms/auth/id"
)

// ErrNotFound is returned when no record exists for a token ID.
var ErrNotFound = errors.New("refresh token not found")

// ErrStoreUnavailable reports a transient backend failure.
var ErrStoreUnavailable = errors.New("refresh store unavailable")

// Store persists token records. Claim is the concurrency primitive the
// rotation protocol rests on: of any number of concurrent presentations of
// the same token, exactly one claims it.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, tok *Token) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, tid id.TokenID) (*Token, error)

	// Claim atomically marks the token used at usedAt, if and only if it
	// was not used before. It reports whether this caller won the claim.
	// A missing record returns ErrNotFound.
	Claim(ctx context.Context, tid id.TokenID, usedAt time.Time) (bool, error)

	// Revoke sets the revoke reason on one record. Revoking an absent
	// record is not an error.
	Revoke(ctx context.Context, tid id.TokenID, reason RevokeReason) error

	// RevokeFamily revokes every record in a lineage and reports how many
	// were still unrevoked.
	RevokeFamily(ctx context.Context, fid id.FamilyID, reason RevokeReason) (int, error)

	// RevokeAllForUser revokes every unrevoked record of one user.
	RevokeAllForUser(ctx context.Context, uid id.UserID, reason RevokeReason) (int, error)
}
