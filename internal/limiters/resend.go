package limiters

import (
	"context"
	"errors"
	"time"
)

// ErrResendCooldown is returned while a previous mail's cooldown is running.
var ErrResendCooldown = errors.New("verification resend cooldown active")

// ResendConfig configures the verification resend cooldown.
type ResendConfig struct {
	Cooldown time.Duration
}

// ResendLimiter throttles verification mails per user and purpose.
type ResendLimiter struct {
	cache  Cache
	config ResendConfig
}

func NewResendLimiter(cache Cache, cfg ResendConfig) *ResendLimiter {
	return &ResendLimiter{cache: cache, config: cfg}
}

// Check returns ErrResendCooldown and the remaining time while a cooldown runs.
func (l *ResendLimiter) Check(ctx context.Context, userID, purpose string) (time.Duration, error) {
	if l == nil || l.cache == nil || l.config.Cooldown <= 0 {
		return 0, nil
	}
	remaining, err := l.cache.CooldownStatus(ctx, resendKey(userID, purpose))
	if err != nil {
		return 0, err
	}
	if remaining > 0 {
		return remaining, ErrResendCooldown
	}
	return 0, nil
}

// Start begins the cooldown after a mail was sent.
func (l *ResendLimiter) Start(ctx context.Context, userID, purpose string) error {
	if l == nil || l.cache == nil || l.config.Cooldown <= 0 {
		return nil
	}
	_, err := l.cache.StartCooldown(ctx, resendKey(userID, purpose), l.config.Cooldown)
	return err
}

func resendKey(userID, purpose string) string {
	return "resend:" + purpose + ":" + userID
}
