package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/password"
)

// CredentialMetrics holds the metric IDs the password flows increment.
type CredentialMetrics struct {
	PasswordSaved      int
	PasswordRehashed   int
	PasswordVerified   int
	PasswordMismatched int
}

// CredentialErrors maps password flow failures to caller sentinels.
type CredentialErrors struct {
	InvalidArgument         error
	InvalidOperation        error
	UserDoesNotExist        error
	PasswordIsIdentical     error
	PasswordChangeTooRecent error
}

// CredentialDeps carries the hasher, password policy and store functions of
// the password flows. A zero MinPasswordAge disables the minimum age rule.
type CredentialDeps struct {
	Hasher         *password.Hasher
	MinPasswordAge time.Duration
	MaxPasswordAge time.Duration
	PreventReuse   bool
	Now            func() time.Time

	GetUser            func(context.Context, string) (*model.User, error)
	UpdatePasswordHash func(context.Context, string, model.PasswordHash) (bool, error)
	UpdateStatus       func(context.Context, string, model.UserStatus, model.UserStatus) (bool, error)

	Warn      LogFunc
	MetricInc func(int)

	Metrics CredentialMetrics
	Errors  CredentialErrors
}

// RunSavePassword replaces the stored password of userID with a fresh hash of
// newPassword under the current version.
func RunSavePassword(ctx context.Context, userID, newPassword string, deps CredentialDeps) error {
	normalizeCredentialDeps(&deps)

	if blank(userID) {
		return fmt.Errorf("%w: user id is blank", deps.Errors.InvalidArgument)
	}
	if blank(newPassword) {
		return fmt.Errorf("%w: password is blank", deps.Errors.InvalidArgument)
	}

	user, err := loadCredentialUser(ctx, userID, deps)
	if err != nil {
		return err
	}

	now := deps.Now()
	if current := user.PasswordHash; current != nil {
		if deps.MinPasswordAge > 0 && !now.After(current.LastChangeDate.Add(deps.MinPasswordAge)) {
			return deps.Errors.PasswordChangeTooRecent
		}
		if err := checkReuse(*current, newPassword, deps); err != nil {
			return err
		}
	}

	hashed, err := deps.Hasher.HashPassword(newPassword, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.InvalidArgument, err)
	}
	record := model.PasswordHash{
		Hash:           hashed.Hash,
		Salt:           hashed.Salt,
		Version:        hashed.Version,
		LastChangeDate: now,
	}
	if deps.MaxPasswordAge > 0 {
		expires := now.Add(deps.MaxPasswordAge)
		record.ExpirationDate = &expires
	}

	ok, err := deps.UpdatePasswordHash(ctx, userID, record)
	if err != nil {
		return err
	}
	if !ok {
		deps.Warn(ctx, "password hash update matched no user; was it deleted concurrently?", "user_id", userID)
		return nil
	}
	deps.MetricInc(deps.Metrics.PasswordSaved)

	next, err := StatusAfterPasswordSave(user.Status)
	if err != nil {
		return err
	}
	return transitionStatus(ctx, userID, user.Status, next, deps.UpdateStatus, deps.Warn)
}

// RunVerifyPassword checks candidate against the stored password of userID,
// transparently re-hashing credentials produced by an older version.
func RunVerifyPassword(ctx context.Context, userID, candidate string, deps CredentialDeps) (model.CredentialResult, error) {
	normalizeCredentialDeps(&deps)

	if blank(userID) {
		return model.CredentialNotVerified, fmt.Errorf("%w: user id is blank", deps.Errors.InvalidArgument)
	}
	if blank(candidate) {
		return model.CredentialNotVerified, fmt.Errorf("%w: password is blank", deps.Errors.InvalidArgument)
	}

	user, err := loadCredentialUser(ctx, userID, deps)
	if err != nil {
		return model.CredentialNotVerified, err
	}
	stored := user.PasswordHash
	if stored == nil {
		deps.MetricInc(deps.Metrics.PasswordMismatched)
		return model.CredentialNotVerified, nil
	}

	res, err := verifyAgainst(*stored, candidate, deps)
	if err != nil {
		return model.CredentialNotVerified, err
	}

	if res == password.VerifiedAndRehashRequired {
		if err := rehash(ctx, userID, *stored, candidate, deps); err != nil {
			return model.CredentialNotVerified, err
		}
	}

	mapped, err := CredentialResultFromPassword(res, stored.ExpiredAt(deps.Now()))
	if err != nil {
		return model.CredentialNotVerified, err
	}
	if mapped == model.CredentialNotVerified {
		deps.MetricInc(deps.Metrics.PasswordMismatched)
	} else {
		deps.MetricInc(deps.Metrics.PasswordVerified)
	}
	return mapped, nil
}

func rehash(ctx context.Context, userID string, stored model.PasswordHash, candidate string, deps CredentialDeps) error {
	hashed, err := deps.Hasher.HashPassword(candidate, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.InvalidArgument, err)
	}
	upgraded := stored
	upgraded.Hash = hashed.Hash
	upgraded.Salt = hashed.Salt
	upgraded.Version = hashed.Version

	ok, err := deps.UpdatePasswordHash(ctx, userID, upgraded)
	if err != nil {
		return err
	}
	if !ok {
		deps.Warn(ctx, "password rehash matched no user; was it deleted concurrently?", "user_id", userID)
		return nil
	}
	deps.MetricInc(deps.Metrics.PasswordRehashed)
	return nil
}

// RunCheckPasswordReuse reports PasswordIsIdentical when reuse prevention
// is on and newPassword matches the stored hash of userID. It changes
// nothing.
func RunCheckPasswordReuse(ctx context.Context, userID, newPassword string, deps CredentialDeps) error {
	normalizeCredentialDeps(&deps)

	if blank(userID) {
		return fmt.Errorf("%w: user id is blank", deps.Errors.InvalidArgument)
	}
	user, err := loadCredentialUser(ctx, userID, deps)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil {
		return nil
	}
	return checkReuse(*user.PasswordHash, newPassword, deps)
}

func checkReuse(current model.PasswordHash, newPassword string, deps CredentialDeps) error {
	if !deps.PreventReuse {
		return nil
	}
	res, err := verifyAgainst(current, newPassword, deps)
	if err != nil {
		return err
	}
	if res != password.NotVerified {
		return deps.Errors.PasswordIsIdentical
	}
	return nil
}

func verifyAgainst(stored model.PasswordHash, candidate string, deps CredentialDeps) (password.Result, error) {
	version, err := deps.Hasher.Resolve(stored.Version)
	if err != nil {
		return password.NotVerified, fmt.Errorf("%w: %v", deps.Errors.InvalidOperation, err)
	}
	res, err := deps.Hasher.VerifyPassword(version, stored.Salt, stored.Hash, candidate)
	if err != nil {
		return password.NotVerified, fmt.Errorf("%w: %v", deps.Errors.InvalidArgument, err)
	}
	return res, nil
}

func loadCredentialUser(ctx context.Context, userID string, deps CredentialDeps) (*model.User, error) {
	user, err := deps.GetUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, deps.Errors.UserDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func transitionStatus(
	ctx context.Context,
	userID string,
	from, to model.UserStatus,
	update func(context.Context, string, model.UserStatus, model.UserStatus) (bool, error),
	warn LogFunc,
) error {
	if from == to {
		return nil
	}
	ok, err := update(ctx, userID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		warn(ctx, "user status transition lost; did another request modify it?",
			"user_id", userID, "from", from.String(), "to", to.String())
	}
	return nil
}

func normalizeCredentialDeps(deps *CredentialDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = nopLog
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
}
