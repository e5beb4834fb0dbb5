package limiters

import (
	"context"
	"time"
)

// SignInConfig configures the sign-in attempt counter.
type SignInConfig struct {
	Window time.Duration
}

// SignInLimiter counts sign-in attempts per user. Attempts are counted before
// the password is checked, successful or not.
type SignInLimiter struct {
	cache  Cache
	config SignInConfig
}

func NewSignInLimiter(cache Cache, cfg SignInConfig) *SignInLimiter {
	return &SignInLimiter{cache: cache, config: cfg}
}

// RecordAttempt increments the attempt counter of userID and returns the
// number of attempts in the current window.
func (l *SignInLimiter) RecordAttempt(ctx context.Context, userID string) (int64, error) {
	if l == nil || l.cache == nil {
		return 0, nil
	}
	return l.cache.Increment(ctx, "signin:"+userID, l.config.Window)
}

// Reset clears the attempt counter of userID, lifting a lockout early.
func (l *SignInLimiter) Reset(ctx context.Context, userID string) error {
	if l == nil || l.cache == nil {
		return nil
	}
	return l.cache.Reset(ctx, "signin:"+userID)
}
