package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCounter keeps counters in process memory. Expired windows are purged
// by go-cache's janitor.
type MemoryCounter struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewMemoryCounter creates a counter whose janitor runs every cleanup.
func NewMemoryCounter(cleanup time.Duration) *MemoryCounter {
	return &MemoryCounter{cache: cache.New(cache.NoExpiration, cleanup)}
}

// Incr increments key, starting a new window when the key is absent or its
// window has elapsed.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cache.Add(key, int64(1), window); err == nil {
		return 1, window, nil
	}

	count, err := c.cache.IncrementInt64(key, 1)
	if err != nil {
		// Expired between Add and Increment.
		c.cache.Set(key, int64(1), window)
		return 1, window, nil
	}

	_, expires, _ := c.cache.GetWithExpiration(key)
	ttl := time.Until(expires)
	if expires.IsZero() || ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}
