// Package limiters provides the domain rate limiters built on top of a
// counter/cooldown cache (internal/rate in production).
//
// # Limiters
//
//   - [SignInLimiter] counts sign-in attempts per user in a fixed window.
//   - [ResendLimiter] enforces a cooldown between verification mails.
//
// All limiters are nil-safe: a nil limiter never limits.
//
// # What this package must NOT do
//
//   - Import accounts or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters

import (
	"context"
	"time"
)

// Cache is the counter and cooldown store the limiters run on.
type Cache interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	CooldownStatus(ctx context.Context, key string) (time.Duration, error)
	StartCooldown(ctx context.Context, key string, d time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}
