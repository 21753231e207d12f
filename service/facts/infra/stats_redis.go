package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"profile-gateway/service/facts/domain"
)

// RedisStatsStore accumulates outcome counters in Redis hashes so every
// replica feeds the same totals.
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl applies only to time-bucket keys; totals are cumulative and
	// never expire.
	ttl time.Duration

	bucket string // "minute" (default) or "none"
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// statsField flattens an event into one hash field. OK outcomes keep the
// hit/miss split; everything else is just the class name.
func statsField(ev domain.StatsEvent) string {
	if ev.Class == domain.ClassOK {
		if ev.Cached {
			return "ok_hit"
		}
		return "ok_miss"
	}
	return ev.Class.String()
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := statsField(ev)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Op != "" {
		pipe.HIncrBy(ctx, s.prefix+":op", string(ev.Op)+":"+field, 1)
	}

	if ev.Class == domain.ClassLimitedLocal && ev.Limiter != "" {
		pipe.HIncrBy(ctx, s.prefix+":limiter", string(ev.Limiter), 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}
