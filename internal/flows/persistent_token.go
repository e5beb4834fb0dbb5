package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/password"
)

// PersistentTokenMetrics holds the metric IDs the persistent token flows increment.
type PersistentTokenMetrics struct {
	PersistentTokenIssued   int
	PersistentTokenVerified int
	PersistentTokenRejected int
	PersistentTokenMissing  int
	PersistentTokenPurged   int
}

// PersistentTokenErrors maps persistent token failures to caller sentinels.
type PersistentTokenErrors struct {
	InvalidArgument  error
	InvalidOperation error
	UserDoesNotExist error
}

// PersistentTokenDeps carries the limits and store functions of the
// persistent token flows.
type PersistentTokenDeps struct {
	Hasher      *password.Hasher
	MaxTokenAge time.Duration
	Now         func() time.Time

	GetUser      func(context.Context, string) (*model.User, error)
	GetToken     func(context.Context, string, string) (*model.PersistentToken, error)
	UpsertToken  func(context.Context, string, model.PersistentToken) (bool, error)
	PurgeExpired func(context.Context, string, time.Time) (int, error)

	Warn      LogFunc
	MetricInc func(int)
	MetricAdd func(int, uint64)

	Metrics PersistentTokenMetrics
	Errors  PersistentTokenErrors
}

// RunSavePersistentToken issues (or replaces) the remember-me token of
// clientID and returns its expiration. The secret is salted with the user's
// current password hash, so changing the password invalidates every token.
func RunSavePersistentToken(ctx context.Context, userID, clientID, clientSecret string, deps PersistentTokenDeps) (time.Time, error) {
	normalizePersistentTokenDeps(&deps)

	if blank(userID, clientID, clientSecret) {
		return time.Time{}, fmt.Errorf("%w: user id, client id and client secret are required", deps.Errors.InvalidArgument)
	}

	user, err := loadTokenUser(ctx, userID, deps)
	if err != nil {
		return time.Time{}, err
	}
	if user.PasswordHash == nil || len(user.PasswordHash.Hash) == 0 {
		return time.Time{}, fmt.Errorf("%w: user has no password hash to bind the token to", deps.Errors.InvalidOperation)
	}

	current := deps.Hasher.Current()
	hashed, err := deps.Hasher.HashPassword(clientID+clientSecret, user.PasswordHash.Hash, &current)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", deps.Errors.InvalidArgument, err)
	}

	now := deps.Now()
	tok := model.PersistentToken{
		ClientID:       clientID,
		Hash:           hashed.Hash,
		ExpirationDate: now.Add(deps.MaxTokenAge),
	}
	ok, err := deps.UpsertToken(ctx, userID, tok)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		deps.Warn(ctx, "persistent token upsert matched no user; was it deleted concurrently?",
			"user_id", userID, "client_id", clientID)
	} else {
		deps.MetricInc(deps.Metrics.PersistentTokenIssued)
	}

	if err := purgeExpiredTokens(ctx, userID, now, deps); err != nil {
		return time.Time{}, err
	}
	return tok.ExpirationDate, nil
}

// RunVerifyPersistentToken checks clientSecret against the token stored for
// clientID. Expired tokens are purged afterwards whatever the outcome.
func RunVerifyPersistentToken(ctx context.Context, userID, clientID, clientSecret string, deps PersistentTokenDeps) (model.PersistentTokenResult, error) {
	normalizePersistentTokenDeps(&deps)

	if blank(userID, clientID, clientSecret) {
		return model.PersistentTokenNoTokenAvailable, fmt.Errorf("%w: user id, client id and client secret are required", deps.Errors.InvalidArgument)
	}

	user, err := loadTokenUser(ctx, userID, deps)
	if err != nil {
		return model.PersistentTokenNoTokenAvailable, err
	}

	now := deps.Now()
	result, err := verifyPersistentToken(ctx, user, clientID, clientSecret, now, deps)
	if err != nil {
		return model.PersistentTokenNoTokenAvailable, err
	}

	switch result {
	case model.PersistentTokenVerified:
		deps.MetricInc(deps.Metrics.PersistentTokenVerified)
	case model.PersistentTokenNotVerified:
		deps.MetricInc(deps.Metrics.PersistentTokenRejected)
	default:
		deps.MetricInc(deps.Metrics.PersistentTokenMissing)
	}

	if err := purgeExpiredTokens(ctx, userID, now, deps); err != nil {
		return model.PersistentTokenNoTokenAvailable, err
	}
	return result, nil
}

func verifyPersistentToken(ctx context.Context, user *model.User, clientID, clientSecret string, now time.Time, deps PersistentTokenDeps) (model.PersistentTokenResult, error) {
	if user.PasswordHash == nil || len(user.PasswordHash.Hash) == 0 {
		return model.PersistentTokenNoTokenAvailable, nil
	}

	tok, err := deps.GetToken(ctx, user.ID, clientID)
	if errors.Is(err, model.ErrNotFound) {
		return model.PersistentTokenNoTokenAvailable, nil
	}
	if err != nil {
		return model.PersistentTokenNoTokenAvailable, err
	}
	if tok.ExpiredAt(now) {
		return model.PersistentTokenNoTokenAvailable, nil
	}

	res, err := deps.Hasher.VerifyPassword(deps.Hasher.Current(), user.PasswordHash.Hash, tok.Hash, clientID+clientSecret)
	if err != nil {
		return model.PersistentTokenNoTokenAvailable, fmt.Errorf("%w: %v", deps.Errors.InvalidArgument, err)
	}
	if res == password.VerifiedAndRehashRequired {
		deps.Warn(ctx, "persistent token reported rehash-required under the current version",
			"user_id", user.ID, "client_id", clientID)
	}
	return PersistentTokenResultFromPassword(res)
}

func purgeExpiredTokens(ctx context.Context, userID string, now time.Time, deps PersistentTokenDeps) error {
	n, err := deps.PurgeExpired(ctx, userID, now)
	if err != nil {
		return err
	}
	if n > 0 {
		deps.MetricAdd(deps.Metrics.PersistentTokenPurged, uint64(n))
	}
	return nil
}

func loadTokenUser(ctx context.Context, userID string, deps PersistentTokenDeps) (*model.User, error) {
	user, err := deps.GetUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, deps.Errors.UserDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func normalizePersistentTokenDeps(deps *PersistentTokenDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = nopLog
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.MetricAdd == nil {
		deps.MetricAdd = func(int, uint64) {}
	}
}
