package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gopress-cms/auth/id"
)

// Schema is the table the store expects. Run it once at deploy time or pass
// it to a migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	id            UUID PRIMARY KEY,
	family_id     UUID        NOT NULL,
	parent_id     UUID        NULL,
	user_id       UUID        NOT NULL,
	secret_hash   BYTEA       NOT NULL,
	issued_at     TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	used_at       TIMESTAMPTZ NULL,
	revoke_reason TEXT        NULL
);
CREATE INDEX IF NOT EXISTS refresh_tokens_family_idx ON refresh_tokens (family_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_user_idx ON refresh_tokens (user_id);
`

// PostgresStore is a Store backed by Postgres, for deployments that want
// token lineage queryable after the fact. The single-winner claim is a
// conditional UPDATE; the row lock makes concurrent claims serialize.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, tok *Token) error {
	var parent any
	if tok.ParentID != nil {
		parent = tok.ParentID.UUID()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens
			(id, family_id, parent_id, user_id, secret_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tok.ID.UUID(), tok.FamilyID.UUID(), parent, tok.UserID.UUID(),
		tok.SecretHash[:], tok.IssuedAt, tok.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tid id.TokenID) (*Token, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, family_id, parent_id, user_id, secret_hash,
		       issued_at, expires_at, used_at, revoke_reason
		FROM refresh_tokens WHERE id = $1`,
		tid.UUID(),
	)

	var (
		tok      Token
		tokID    [16]byte
		famID    [16]byte
		parentID *[16]byte
		userID   [16]byte
		hash     []byte
		reason   *string
	)
	err := row.Scan(&tokID, &famID, &parentID, &userID, &hash,
		&tok.IssuedAt, &tok.ExpiresAt, &tok.UsedAt, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	tok.ID = id.TokenFromUUID(tokID)
	tok.FamilyID = id.FamilyFromUUID(famID)
	tok.UserID = id.UserFromUUID(userID)
	if parentID != nil {
		p := id.TokenFromUUID(*parentID)
		tok.ParentID = &p
	}
	if len(hash) == len(tok.SecretHash) {
		copy(tok.SecretHash[:], hash)
	}
	if reason != nil {
		r := RevokeReason(*reason)
		tok.RevokeReason = &r
	}
	return &tok, nil
}

func (s *PostgresStore) Claim(ctx context.Context, tid id.TokenID, usedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET used_at = $2
		WHERE id = $1 AND used_at IS NULL`,
		tid.UUID(), usedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish a lost claim from a missing row.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`,
		tid.UUID(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// revocableSQL matches rows the given reason may overwrite: unrevoked rows
// always, and Rotated rows when the burn reason is theft_detected, so spent
// links in a stolen lineage end up marked stolen too.
const revocableSQL = `(revoke_reason IS NULL
		OR (revoke_reason = 'rotated' AND $2 = 'theft_detected'))`

func (s *PostgresStore) Revoke(ctx context.Context, tid id.TokenID, reason RevokeReason) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoke_reason = $2
		WHERE id = $1 AND `+revocableSQL,
		tid.UUID(), string(reason),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) RevokeFamily(ctx context.Context, fid id.FamilyID, reason RevokeReason) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoke_reason = $2
		WHERE family_id = $1 AND `+revocableSQL,
		fid.UUID(), string(reason),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, uid id.UserID, reason RevokeReason) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoke_reason = $2
		WHERE user_id = $1 AND `+revocableSQL,
		uid.UUID(), string(reason),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpired deletes records whose expiry is older than before. Intended
// for a periodic maintenance job.
func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
