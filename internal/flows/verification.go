package flows

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/token"
)

// VerificationMetrics holds the metric IDs the verification flows increment.
type VerificationMetrics struct {
	VerificationIssued     int
	VerificationVerified   int
	VerificationRejected   int
	VerificationExpired    int
	VerificationSuperseded int
}

// VerificationErrors maps verification failures to caller sentinels.
type VerificationErrors struct {
	InvalidArgument       error
	InvalidOperation      error
	UserDoesNotExist      error
	VerificationTooRecent error
}

// VerificationDeps carries the settings and store functions of the
// verification flows.
type VerificationDeps struct {
	HashAlgorithm      string
	SaltLength         int
	PepperLength       int
	MinVerificationAge time.Duration
	MaxVerificationAge time.Duration
	Now                func() time.Time
	Random             io.Reader
	NewID              func() string

	FindActive   func(context.Context, string, string, model.Purpose, time.Time) (*model.Verification, error)
	Insert       func(context.Context, *model.Verification) error
	Expire       func(context.Context, string, time.Time) (bool, error)
	GetUser      func(context.Context, string) (*model.User, error)
	UpdateStatus func(context.Context, string, model.UserStatus, model.UserStatus) (bool, error)

	// BeforeConsume, when set, runs after the token matched and before it
	// is consumed. An error leaves the token active.
	BeforeConsume func(context.Context) error

	Warn      LogFunc
	MetricInc func(int)

	Metrics VerificationMetrics
	Errors  VerificationErrors
}

// RunGenerateVerificationToken supersedes the active verification of
// (userID, email, purpose) and creates a new one. The returned token carries
// the only copy of the pepper.
func RunGenerateVerificationToken(ctx context.Context, userID, email string, purpose model.Purpose, deps VerificationDeps) (model.VerificationToken, error) {
	normalizeVerificationDeps(&deps)

	if blank(userID, email) {
		return model.VerificationToken{}, fmt.Errorf("%w: user id and email are required", deps.Errors.InvalidArgument)
	}
	if !purpose.Valid() {
		return model.VerificationToken{}, fmt.Errorf("%w: unknown purpose %d", deps.Errors.InvalidArgument, purpose)
	}
	if _, err := token.Algorithm(deps.HashAlgorithm); err != nil {
		return model.VerificationToken{}, fmt.Errorf("%w: %v", deps.Errors.InvalidOperation, err)
	}

	now := deps.Now()
	prior, err := findActive(ctx, userID, email, purpose, now, deps)
	if err != nil {
		return model.VerificationToken{}, err
	}
	if prior != nil {
		expired, err := expireVerification(ctx, prior, now, false, deps)
		if err != nil {
			return model.VerificationToken{}, err
		}
		if !expired {
			deps.Warn(ctx, "superseded verification was already expired by another request",
				"verification_id", prior.ID, "purpose", prior.Purpose.String())
		}
		deps.MetricInc(deps.Metrics.VerificationSuperseded)
	}

	salt := make([]byte, deps.SaltLength)
	if _, err := io.ReadFull(deps.Random, salt); err != nil {
		return model.VerificationToken{}, fmt.Errorf("read verification salt: %w", err)
	}
	pepper := make([]byte, deps.PepperLength)
	if _, err := io.ReadFull(deps.Random, pepper); err != nil {
		return model.VerificationToken{}, fmt.Errorf("read verification pepper: %w", err)
	}

	v := &model.Verification{
		ID:           deps.NewID(),
		UserID:       userID,
		Email:        email,
		Purpose:      purpose,
		CreationDate: now.Truncate(time.Millisecond),
		Salt:         salt,
	}
	if deps.MaxVerificationAge > 0 {
		expires := v.CreationDate.Add(deps.MaxVerificationAge)
		v.ExpirationDate = &expires
	}
	if err := deps.Insert(ctx, v); err != nil {
		return model.VerificationToken{}, err
	}

	tok, err := token.Create(sourceOf(v), pepper, deps.HashAlgorithm)
	if err != nil {
		return model.VerificationToken{}, fmt.Errorf("%w: %v", deps.Errors.InvalidOperation, err)
	}
	deps.MetricInc(deps.Metrics.VerificationIssued)

	return model.VerificationToken{
		Email:          email,
		Purpose:        purpose,
		Token:          tok.Value,
		Pepper:         tok.Pepper,
		ExpirationDate: v.ExpirationDate,
	}, nil
}

// RunVerifyToken checks a token presented for (userID, email, purpose). A
// verified token is consumed at once and the user's status moves according
// to purpose.
func RunVerifyToken(ctx context.Context, userID, email string, purpose model.Purpose, presented, pepper string, deps VerificationDeps) (model.VerificationResult, error) {
	normalizeVerificationDeps(&deps)

	if blank(userID, email, presented, pepper) {
		return model.VerificationNotVerified, fmt.Errorf("%w: user id, email, token and pepper are required", deps.Errors.InvalidArgument)
	}
	if !purpose.Valid() {
		return model.VerificationNotVerified, fmt.Errorf("%w: unknown purpose %d", deps.Errors.InvalidArgument, purpose)
	}

	rawPepper, err := token.DecodePepper(pepper)
	if err != nil {
		deps.MetricInc(deps.Metrics.VerificationRejected)
		return model.VerificationNotVerified, nil
	}

	now := deps.Now()
	v, err := findActive(ctx, userID, email, purpose, now, deps)
	if err != nil {
		return model.VerificationNotVerified, err
	}
	if v == nil {
		deps.MetricInc(deps.Metrics.VerificationRejected)
		return model.VerificationNotVerified, nil
	}

	recomputed, err := token.Create(sourceOf(v), rawPepper, deps.HashAlgorithm)
	if err != nil {
		return model.VerificationNotVerified, fmt.Errorf("%w: %v", deps.Errors.InvalidOperation, err)
	}
	if !v.ActiveAt(now) {
		deps.MetricInc(deps.Metrics.VerificationExpired)
		return model.VerificationTokenExpired, nil
	}
	if !token.Equal(recomputed.Value, presented) {
		deps.MetricInc(deps.Metrics.VerificationRejected)
		return model.VerificationNotVerified, nil
	}

	if deps.BeforeConsume != nil {
		if err := deps.BeforeConsume(ctx); err != nil {
			return model.VerificationNotVerified, err
		}
	}

	consumed, err := expireVerification(ctx, v, now, true, deps)
	if err != nil {
		return model.VerificationNotVerified, err
	}
	if !consumed {
		// a concurrent request consumed the same token first
		deps.MetricInc(deps.Metrics.VerificationRejected)
		return model.VerificationNotVerified, nil
	}
	deps.MetricInc(deps.Metrics.VerificationVerified)

	user, err := deps.GetUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.VerificationNotVerified, deps.Errors.UserDoesNotExist
	}
	if err != nil {
		return model.VerificationNotVerified, err
	}
	next, err := StatusAfterVerification(purpose, user.Status)
	if err != nil {
		return model.VerificationNotVerified, err
	}
	if err := transitionStatus(ctx, userID, user.Status, next, deps.UpdateStatus, deps.Warn); err != nil {
		return model.VerificationNotVerified, err
	}
	return model.VerificationVerified, nil
}

// expireVerification soft-expires v at now and reports whether this call
// expired it. A false result means v was no longer active in the store.
// Without override, verifications younger than the minimum age are
// protected.
func expireVerification(ctx context.Context, v *model.Verification, now time.Time, override bool, deps VerificationDeps) (bool, error) {
	if !v.ActiveAt(now) {
		return false, nil
	}
	if !override && deps.MinVerificationAge > 0 && now.Before(v.CreationDate.Add(deps.MinVerificationAge)) {
		return false, deps.Errors.VerificationTooRecent
	}
	return deps.Expire(ctx, v.ID, now)
}

func findActive(ctx context.Context, userID, email string, purpose model.Purpose, now time.Time, deps VerificationDeps) (*model.Verification, error) {
	v, err := deps.FindActive(ctx, userID, email, purpose, now)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func sourceOf(v *model.Verification) token.Source {
	return token.Source{Email: v.Email, CreatedAt: v.CreationDate, Salt: v.Salt}
}

func normalizeVerificationDeps(deps *VerificationDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Random == nil {
		deps.Random = rand.Reader
	}
	if deps.Warn == nil {
		deps.Warn = nopLog
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
}
