package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisStats keeps cumulative and per-minute decision counters in Redis
// hashes, shared by all server processes.
type RedisStats struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStats(rdb redis.Cmdable, ttl time.Duration) *RedisStats {
	return &RedisStats{rdb: rdb, prefix: "ratelimit:stats", ttl: ttl}
}

func (s *RedisStats) Record(ctx context.Context, dimension string, allowed bool, at time.Time) error {
	f := dimension + ":" + metrics.Outcome(allowed)
	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", f, 1)
	pipe.HIncrBy(ctx, bucketKey, f, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns the cumulative counters keyed by "<dimension>:<allowed|denied>".
func (s *RedisStats) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad counter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
