package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/studydeck/accounts/internal/flows"
)

// SavePersistentToken issues the remember-me token of clientID for userID and
// returns its expiration. An existing token of the same client is replaced.
func (e *Engine) SavePersistentToken(ctx context.Context, userID, clientID, clientSecret string) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}
	return flows.RunSavePersistentToken(ctx, userID, clientID, clientSecret, e.persistentTokenDeps())
}

// VerifyPersistentToken checks clientSecret against the token of clientID.
// Expired tokens of the user are purged whatever the result.
func (e *Engine) VerifyPersistentToken(ctx context.Context, userID, clientID, clientSecret string) (PersistentTokenResult, error) {
	if err := e.ready(); err != nil {
		return PersistentTokenNoTokenAvailable, err
	}
	return flows.RunVerifyPersistentToken(ctx, userID, clientID, clientSecret, e.persistentTokenDeps())
}

// PurgeExpiredTokens removes every expired persistent token of userID and
// returns how many were removed.
func (e *Engine) PurgeExpiredTokens(ctx context.Context, userID string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}
	n, err := e.store.DeleteExpiredPersistentTokens(ctx, userID, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.flowMetricAdd(int(MetricPersistentTokenPurged), uint64(n))
	}
	return n, nil
}
