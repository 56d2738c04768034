package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter backed by Redis. INCR is atomic server-side,
// which makes the limiter safe under unbounded concurrent access from many
// gateway instances.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps an existing Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrWithTTL increments key and sets its TTL if it has none yet.
func (c *RedisCounter) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr pipeline: %w", err)
	}
	return incr.Val(), nil
}

// Ping verifies connectivity at startup.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
