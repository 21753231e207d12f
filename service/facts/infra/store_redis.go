package infra

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"profile-gateway/service/facts/domain"
)

// RedisStore backs the shared store contract with Redis, so cache entries,
// limiter windows and cooldown flags are visible to every replica.
type RedisStore struct {
	rdb *redis.Client
	seq atomic.Uint64
}

var _ domain.Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// countWindowScript prunes a window's sorted set, records the current
// attempt and returns the resulting cardinality in a single script call.
// A read-then-write from Go would undercount under concurrent attempts.
//
// KEYS[1] window key; ARGV[1] now (ms); ARGV[2] window (ms); ARGV[3]
// per-process sequence, which keeps members unique when two attempts land
// on the same millisecond.
var countWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1] - ARGV[2])
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1] .. '-' .. ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return redis.call('ZCARD', KEYS[1])
`)

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) PTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	// PTTL reports -2 for a missing key and -1 for a key with no expiry.
	if d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}

func (s *RedisStore) CountWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now().UnixMilli()
	seq := s.seq.Add(1)
	return countWindowScript.Run(ctx, s.rdb, []string{key}, now, window.Milliseconds(), seq).Int64()
}
