package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps counters in Redis using INCR and EXPIRE.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a counter on client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments key and sets its expiry on first access.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: redis INCR %s: %w", key, err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			// Without a TTL the key would block the identifier forever.
			c.client.Del(ctx, key)
			return 0, 0, fmt.Errorf("ratelimit: redis EXPIRE %s: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return count, window, nil
	}
	if ttl < 0 {
		// Key lost its expiry; restore it so the window closes eventually.
		c.client.Expire(ctx, key, window)
		ttl = window
	}
	return count, ttl, nil
}
