package lockout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL bumps a counter and starts its TTL on creation in one atomic
// round trip, so a crash between the two steps cannot leave an immortal key.
var incrWithTTLScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RedisStore is a Store shared across instances through Redis. All keys live
// under a prefix so several protections can share one database.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps a Redis client. An empty prefix defaults to "abf".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "abf"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the store clock for tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) failKey(key string) string   { return s.prefix + ":fail:" + key }
func (s *RedisStore) strikeKey(key string) string { return s.prefix + ":strike:" + key }
func (s *RedisStore) lockKeyName(key string) string { return s.prefix + ":lock:" + key }

func (s *RedisStore) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrWithTTLScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

func (s *RedisStore) IncrFailures(ctx context.Context, key string, window time.Duration) (int64, error) {
	return s.incr(ctx, s.failKey(key), window)
}

func (s *RedisStore) GetFailures(ctx context.Context, key string) (int64, error) {
	res, err := s.client.Get(ctx, s.failKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

func (s *RedisStore) ResetFailures(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.failKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IncrStrikes(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.incr(ctx, s.strikeKey(key), ttl)
}

func (s *RedisStore) SetLock(ctx context.Context, key string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	val := strconv.FormatInt(until.UnixMilli(), 10)
	if err := s.client.Set(ctx, s.lockKeyName(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetLock(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.lockKeyName(key)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: corrupt lock value %q", ErrStoreUnavailable, val)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) ClearLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.lockKeyName(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
