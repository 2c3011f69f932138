// Package ratelimit implements a per-client fixed window counter in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter allows Limit calls per Window for each key.
type RedisLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		prefix: "scenegen:ratelimit",
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}
}

// Allow counts one call for key in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return incr.Val() <= l.limit, nil
}

// Ping checks the Redis connection for health reporting.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}
