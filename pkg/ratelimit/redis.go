package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window limiter backed by Redis INCR+EXPIRE. Serverless
// instances share one counter per key, so the window holds across cold starts,
// which the in-process Memory limiter cannot guarantee.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisWindow builds a limiter allowing `limit` actions per `window`
func NewRedisWindow(client *redis.Client, prefix string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	bucket := fmt.Sprintf("%s:%s:%d", r.prefix, key, time.Now().Unix()/int64(r.window.Seconds()))

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return incr.Val() <= int64(r.limit), nil
}

// Close releases the underlying Redis connection
func (r *RedisWindow) Close() error {
	return r.client.Close()
}
