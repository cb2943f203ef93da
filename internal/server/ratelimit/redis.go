package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript prunes entries scored at or before the cutoff, then
// records the current instant if fewer than limit entries remain. It runs
// atomically on the server, which makes every window linearizable across
// processes. Scores are milliseconds and are passed as strings so Lua never
// formats them.
//
// KEYS[1] window key
// ARGV    now(ms), cutoff(ms), limit, member, ttl(ms)
// returns {1, 0} when admitted, {0, oldest(ms)} when rejected.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])

local count = redis.call('ZCARD', key)
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, tonumber(oldest[2])}
end

redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return {1, 0}
`)

// RedisWindow is a Limiter keeping one sorted set per window.
type RedisWindow struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

type RedisWindowOption func(*RedisWindow)

func WithPrefix(prefix string) RedisWindowOption {
	return func(w *RedisWindow) {
		w.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedisWindow(rdb redis.Scripter, limit int, window time.Duration, opts ...RedisWindowOption) *RedisWindow {
	w := &RedisWindow{
		rdb:    rdb,
		prefix: "ratelimit",
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *RedisWindow) key(dimension, identity string) string {
	return fmt.Sprintf("%s:%s:%s", w.prefix, dimension, identity)
}

func (w *RedisWindow) Admit(ctx context.Context, dimension, identity string, now time.Time) (Decision, error) {
	nowMillis := now.UnixMilli()
	windowMillis := w.window.Milliseconds()
	member := fmt.Sprintf("%d-%s", nowMillis, uuid.NewString())

	ttl := windowMillis
	if ttl < 1 {
		ttl = 1
	}

	res, err := slidingWindowScript.Run(ctx, w.rdb, []string{w.key(dimension, identity)},
		strconv.FormatInt(nowMillis, 10),
		strconv.FormatInt(nowMillis-windowMillis, 10),
		w.limit, member, ttl).Int64Slice()
	if err != nil {
		return Decision{}, err
	}

	if len(res) > 0 && res[0] == 1 {
		return Decision{Allowed: true}, nil
	}

	retry := w.window
	if len(res) > 1 {
		retry = time.Duration(res[1]+windowMillis-nowMillis) * time.Millisecond
	}
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}
