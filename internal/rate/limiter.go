package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a fixed-window counter and cooldown store keyed by caller-chosen
// names. All keys are namespaced under the configured prefix.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a rate [Cache] backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "acct"
	}
	return &Cache{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Increment bumps the counter for key and returns the new count. The window
// starts with the first hit and lasts window.
func (c *Cache) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.key("cnt", key)
	count, err := c.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 && window > 0 {
		if err := c.redis.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// Reset clears the counter for key.
func (c *Cache) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.key("cnt", key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CooldownStatus returns how long the cooldown on key still runs, or zero
// when none is active.
func (c *Cache) CooldownStatus(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.redis.PTTL(ctx, c.key("cd", key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// -2: missing key, -1: no expiry (never written by this package).
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// StartCooldown starts a cooldown of d on key unless one is already running.
// It reports whether a new cooldown was started.
func (c *Cache) StartCooldown(ctx context.Context, key string, d time.Duration) (bool, error) {
	if d <= 0 {
		return true, nil
	}
	ok, err := c.redis.SetNX(ctx, c.key("cd", key), 1, d).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

func (c *Cache) key(kind, key string) string {
	return c.prefix + ":rl:" + kind + ":" + key
}
