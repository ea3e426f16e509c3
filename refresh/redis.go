package refresh

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gopress-cms/auth/id"
)

// claimScript sets used_at exactly once. Running as a script makes the
// read-check-write a single step, so concurrent presentations of one token
// cannot both win.
var claimScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if rec.used_at then
  return 1
end
rec.used_at = tonumber(ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
else
  redis.call('SET', KEYS[1], cjson.encode(rec))
end
return 2
`)

const (
	claimNotFound    = 0
	claimAlreadyUsed = 1
	claimWon         = 2
)

// revokeScript sets the revoke reason server-side so a concurrent claim
// cannot be lost to a read-modify-write race. A reason already present is
// kept, except that a theft burn overwrites Rotated so spent links in the
// lineage end up marked stolen too.
var revokeScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
if rec.reason and not (rec.reason == 'rotated' and ARGV[1] == 'theft_detected') then
  return 1
end
rec.reason = ARGV[1]
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
else
  redis.call('SET', KEYS[1], cjson.encode(rec))
end
return 2
`)

const (
	revokeNotFound = 0
	revokeSkipped  = 1
	revokeDone     = 2
)

type redisRecord struct {
	ID         string `json:"id"`
	FamilyID   string `json:"family_id"`
	ParentID   string `json:"parent_id,omitempty"`
	UserID     string `json:"user_id"`
	SecretHash string `json:"secret_hash"`
	IssuedAt   int64  `json:"issued_at"`
	ExpiresAt  int64  `json:"expires_at"`
	UsedAt     int64  `json:"used_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func toRedisRecord(tok *Token) redisRecord {
	rec := redisRecord{
		ID:         tok.ID.String(),
		FamilyID:   tok.FamilyID.String(),
		UserID:     tok.UserID.String(),
		SecretHash: base64.RawStdEncoding.EncodeToString(tok.SecretHash[:]),
		IssuedAt:   tok.IssuedAt.UnixMilli(),
		ExpiresAt:  tok.ExpiresAt.UnixMilli(),
	}
	if tok.ParentID != nil {
		rec.ParentID = tok.ParentID.String()
	}
	if tok.UsedAt != nil {
		rec.UsedAt = tok.UsedAt.UnixMilli()
	}
	if tok.RevokeReason != nil {
		rec.Reason = string(*tok.RevokeReason)
	}
	return rec
}

func fromRedisRecord(rec redisRecord) (*Token, error) {
	tid, err := id.ParseToken(rec.ID)
	if err != nil {
		return nil, err
	}
	fid, err := id.ParseFamily(rec.FamilyID)
	if err != nil {
		return nil, err
	}
	uid, err := id.ParseUser(rec.UserID)
	if err != nil {
		return nil, err
	}
	hash, err := base64.RawStdEncoding.DecodeString(rec.SecretHash)
	if err != nil || len(hash) != 32 {
		return nil, errors.New("corrupt secret hash")
	}

	tok := &Token{
		ID:        tid,
		FamilyID:  fid,
		UserID:    uid,
		IssuedAt:  time.UnixMilli(rec.IssuedAt).UTC(),
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}
	copy(tok.SecretHash[:], hash)
	if rec.ParentID != "" {
		pid, err := id.ParseToken(rec.ParentID)
		if err != nil {
			return nil, err
		}
		tok.ParentID = &pid
	}
	if rec.UsedAt != 0 {
		u := time.UnixMilli(rec.UsedAt).UTC()
		tok.UsedAt = &u
	}
	if rec.Reason != "" {
		r := RevokeReason(rec.Reason)
		tok.RevokeReason = &r
	}
	return tok, nil
}

// RedisStore is a Store shared across instances through Redis. Records are
// JSON blobs with family and user index sets, all expiring with the longest
// lived member.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps a Redis client. An empty prefix defaults to "rt".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the store clock for tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) key(tid id.TokenID) string       { return s.prefix + ":t:" + tid.String() }
func (s *RedisStore) familyKey(fid id.FamilyID) string { return s.prefix + ":f:" + fid.String() }
func (s *RedisStore) userKey(uid id.UserID) string    { return s.prefix + ":u:" + uid.String() }

func (s *RedisStore) Create(ctx context.Context, tok *Token) error {
	data, err := json.Marshal(toRedisRecord(tok))
	if err != nil {
		return err
	}

	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("token already expired")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tok.ID), data, ttl)
		pipe.SAdd(ctx, s.familyKey(tok.FamilyID), tok.ID.String())
		pipe.Expire(ctx, s.familyKey(tok.FamilyID), ttl)
		pipe.SAdd(ctx, s.userKey(tok.UserID), tok.ID.String())
		pipe.Expire(ctx, s.userKey(tok.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tid id.TokenID) (*Token, error) {
	data, err := s.client.Get(ctx, s.key(tid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrStoreUnavailable, err)
	}
	return fromRedisRecord(rec)
}

func (s *RedisStore) Claim(ctx context.Context, tid id.TokenID, usedAt time.Time) (bool, error) {
	res, err := claimScript.Run(ctx, s.client, []string{s.key(tid)}, usedAt.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch res {
	case claimNotFound:
		return false, ErrNotFound
	case claimAlreadyUsed:
		return false, nil
	case claimWon:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected claim status %d", ErrStoreUnavailable, res)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, tid id.TokenID, reason RevokeReason) error {
	_, err := s.revokeOne(ctx, tid, reason)
	return err
}

func (s *RedisStore) revokeOne(ctx context.Context, tid id.TokenID, reason RevokeReason) (bool, error) {
	res, err := revokeScript.Run(ctx, s.client, []string{s.key(tid)}, string(reason)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == revokeDone, nil
}

func (s *RedisStore) RevokeFamily(ctx context.Context, fid id.FamilyID, reason RevokeReason) (int, error) {
	return s.revokeSet(ctx, s.familyKey(fid), reason)
}

func (s *RedisStore) RevokeAllForUser(ctx context.Context, uid id.UserID, reason RevokeReason) (int, error) {
	return s.revokeSet(ctx, s.userKey(uid), reason)
}

func (s *RedisStore) revokeSet(ctx context.Context, setKey string, reason RevokeReason) (int, error) {
	raw, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var n int
	for _, member := range raw {
		tid, err := id.ParseToken(member)
		if err != nil {
			continue
		}
		done, err := s.revokeOne(ctx, tid, reason)
		if err != nil {
			return n, err
		}
		if done {
			n++
		}
	}
	return n, nil
}
