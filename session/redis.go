package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gopress-cms/auth/id"
)

// deleteSession removes the session blob and its user-index entry in one
// atomic step, so the index cannot reference a blob that is already gone.
var deleteSessionScript = redis.NewScript(`
redis.call('SREM', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// RedisStore is a Store shared across instances through Redis. Each user has
// a set of session IDs so logout-everywhere does not need a scan.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps a Redis client. An empty prefix defaults to "sess".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(sid id.SessionID) string  { return s.prefix + ":" + sid.String() }
func (s *RedisStore) userKey(uid id.UserID) string { return s.prefix + ":u:" + uid.String() }

func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID.String())
		// The index must outlive its longest-lived member, so its TTL only
		// ever moves up: set it on a fresh set, raise it when this session
		// lives longer, never shorten it for sessions already indexed.
		pipe.ExpireNX(ctx, s.userKey(sess.UserID), ttl)
		pipe.ExpireGT(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sid id.SessionID) (*Session, error) {
	data, err := s.client.Get(ctx, s.key(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Decode(data)
}

func (s *RedisStore) Delete(ctx context.Context, sid id.SessionID) error {
	data, err := s.client.Get(ctx, s.key(sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		// Corrupt blob; delete it anyway.
		if delErr := s.client.Del(ctx, s.key(sid)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, delErr)
		}
		return nil
	}

	keys := []string{s.key(sid), s.userKey(sess.UserID)}
	if err := deleteSessionScript.Run(ctx, s.client, keys, sid.String()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DeleteAllForUser(ctx context.Context, uid id.UserID) (int, error) {
	userKey := s.userKey(uid)

	sids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	keys := make([]string, 0, len(sids))
	for _, sid := range sids {
		keys = append(keys, s.prefix+":"+sid)
	}

	var delCmd *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			delCmd = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if delCmd == nil {
		return 0, nil
	}
	return int(delCmd.Val()), nil
}

func (s *RedisStore) IDsForUser(ctx context.Context, uid id.UserID) ([]id.SessionID, error) {
	sids, err := s.client.SMembers(ctx, s.userKey(uid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ids := make([]id.SessionID, 0, len(sids))
	for _, raw := range sids {
		sid, err := id.ParseSession(raw)
		if err != nil {
			continue
		}
		// The set may lag behind blob expiry; only report sessions that
		// still exist.
		exists, err := s.client.Exists(ctx, s.key(sid)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if exists == 1 {
			ids = append(ids, sid)
		}
	}
	return ids, nil
}
