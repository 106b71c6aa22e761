package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Counter abstracts the Redis operations used by the limiter to make testing easier.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RedisCounter is a concrete implementation backed by go-redis.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter constructs a new Redis-backed counter adapter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c *RedisCounter) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.client.Expire(ctx, key, expiration).Err()
}

// Limiter allows at most Limit requests per client in each fixed window.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	now     func() time.Time
}

// NewLimiter returns a fixed-window limiter.
func NewLimiter(counter Counter, limit int64, window time.Duration) *Limiter {
	return &Limiter{counter: counter, limit: limit, window: window, now: time.Now}
}

// Allow records one request for client and reports whether it fits the window.
func (l *Limiter) Allow(ctx context.Context, client string) (bool, error) {
	start := l.now().Truncate(l.window)
	key := fmt.Sprintf("ratelimit:%s:%d", client, start.Unix())

	count, err := l.counter.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.counter.Expire(ctx, key, l.window); err != nil {
			return false, err
		}
	}
	return count <= l.limit, nil
}
