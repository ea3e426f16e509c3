package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increment, window start, and TTL read in one atomic round trip.
const incrWithTTLScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return {count, ttl}
`

var incrWithTTLLua = redis.NewScript(incrWithTTLScript)

// RedisCounterStore is a Redis-backed [CounterStore] for multi-instance
// deployments.
type RedisCounterStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounterStore returns a counter store namespaced under prefix.
func NewRedisCounterStore(client redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "arl"
	}
	return &RedisCounterStore{redis: client, prefix: prefix}
}

func (s *RedisCounterStore) key(k string) string {
	return s.prefix + ":" + k
}

// IncrWithTTL implements [CounterStore].
func (s *RedisCounterStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	result, err := incrWithTTLLua.Run(ctx, s.redis, []string{s.key(key)}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid counter script response", ErrStoreUnavailable)
	}
	count, ok1 := parts[0].(int64)
	ttlMillis, ok2 := parts[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%w: invalid counter script values", ErrStoreUnavailable)
	}

	return count, time.Duration(ttlMillis) * time.Millisecond, nil
}

// Reset implements [CounterStore].
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
