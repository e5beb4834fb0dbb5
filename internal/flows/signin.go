package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/studydeck/accounts/internal/model"
)

// SignInInput is the flow-local sign-in request.
type SignInInput struct {
	Username     string
	Password     string
	RememberMe   bool
	ClientID     string
	ClientSecret string
}

// SignInOutcome is the flow-local sign-in and renewal response.
type SignInOutcome struct {
	UserID                   string
	SessionToken             string
	SessionExpiresAt         time.Time
	PersistentTokenExpiresAt time.Time
}

// SignInMetrics holds the metric IDs the sign-in flows increment.
type SignInMetrics struct {
	SignInSuccess         int
	SignInFailure         int
	SignInLockedOut       int
	SignInSuspended       int
	SignInPasswordExpired int
	RenewSuccess          int
	RenewFailure          int
	SessionIssued         int
}

// SignInEvents names the events the sign-in flows emit.
type SignInEvents struct {
	SignIn string
	Renew  string
}

// SignInErrors maps sign-in failures to caller sentinels.
type SignInErrors struct {
	InvalidArgument error
}

// SignInDeps carries the attempt policy and collaborators of the sign-in
// flows.
type SignInDeps struct {
	MaxPasswordAttempts int

	GetUserByUsername     func(context.Context, string) (*model.User, error)
	GetUserByID           func(context.Context, string) (*model.User, error)
	IncrementAttempts     func(context.Context, string) (int64, error)
	VerifyPassword        func(context.Context, string, string) (model.CredentialResult, error)
	VerifyPersistentToken func(context.Context, string, string, string) (model.PersistentTokenResult, error)
	SavePersistentToken   func(context.Context, string, string, string) (time.Time, error)
	IssueSession          func(context.Context, *model.User) (string, time.Time, error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics SignInMetrics
	Events  SignInEvents
	Errors  SignInErrors
}

// RunSignIn authenticates a username/password pair. The attempt counter is
// incremented before the password is checked, so locked-out users cannot
// probe passwords. Every attempt is audited.
func RunSignIn(ctx context.Context, in SignInInput, deps SignInDeps) (result model.SignInResult, out SignInOutcome, err error) {
	normalizeSignInDeps(&deps)

	defer func() {
		deps.EmitAudit(ctx, deps.Events.SignIn, err == nil && result == model.SignInAuthenticated, out.UserID, err, func() map[string]string {
			return map[string]string{
				"username":    in.Username,
				"result":      result.String(),
				"remember_me": strconv.FormatBool(in.RememberMe),
			}
		})
	}()

	if blank(in.Username, in.Password) {
		return model.SignInNotAuthenticated, out, fmt.Errorf("%w: username and password are required", deps.Errors.InvalidArgument)
	}
	if in.RememberMe && blank(in.ClientID, in.ClientSecret) {
		return model.SignInNotAuthenticated, out, fmt.Errorf("%w: remember me requires client id and client secret", deps.Errors.InvalidArgument)
	}

	user, err := deps.GetUserByUsername(ctx, in.Username)
	if errors.Is(err, model.ErrNotFound) {
		deps.MetricInc(deps.Metrics.SignInFailure)
		return model.SignInNotAuthenticated, out, nil
	}
	if err != nil {
		return model.SignInNotAuthenticated, out, err
	}
	out.UserID = user.ID

	if user.Status == model.StatusSuspended {
		deps.MetricInc(deps.Metrics.SignInSuspended)
		return model.SignInSuspended, out, nil
	}

	attempts, err := deps.IncrementAttempts(ctx, user.ID)
	if err != nil {
		return model.SignInNotAuthenticated, out, err
	}
	if deps.MaxPasswordAttempts > 0 && attempts > int64(deps.MaxPasswordAttempts) {
		deps.MetricInc(deps.Metrics.SignInLockedOut)
		deps.EmitRateLimit(ctx, "sign_in", func() map[string]string {
			return map[string]string{"user_id": user.ID, "attempts": strconv.FormatInt(attempts, 10)}
		})
		return model.SignInLockedOut, out, nil
	}

	credential, err := deps.VerifyPassword(ctx, user.ID, in.Password)
	if err != nil {
		return model.SignInNotAuthenticated, out, err
	}
	result, err = SignInResultFromCredential(credential, user.Status)
	if err != nil {
		return model.SignInNotAuthenticated, out, err
	}

	switch result {
	case model.SignInAuthenticated:
		deps.MetricInc(deps.Metrics.SignInSuccess)
	case model.SignInPasswordExpired:
		deps.MetricInc(deps.Metrics.SignInPasswordExpired)
	default:
		deps.MetricInc(deps.Metrics.SignInFailure)
		return result, out, nil
	}

	out.SessionToken, out.SessionExpiresAt, err = deps.IssueSession(ctx, user)
	if err != nil {
		return model.SignInNotAuthenticated, out, err
	}
	deps.MetricInc(deps.Metrics.SessionIssued)

	if result == model.SignInAuthenticated && in.RememberMe {
		out.PersistentTokenExpiresAt, err = deps.SavePersistentToken(ctx, user.ID, in.ClientID, in.ClientSecret)
		if err != nil {
			return model.SignInNotAuthenticated, out, err
		}
	}
	return result, out, nil
}

// RunRenewToken issues a new session from a persistent token. Every renewal
// is audited.
func RunRenewToken(ctx context.Context, userID, clientID, clientSecret string, deps SignInDeps) (result model.RenewResult, out SignInOutcome, err error) {
	normalizeSignInDeps(&deps)
	out.UserID = userID

	defer func() {
		deps.EmitAudit(ctx, deps.Events.Renew, err == nil && result == model.RenewAuthenticated, userID, err, func() map[string]string {
			return map[string]string{
				"client_id": clientID,
				"result":    result.String(),
			}
		})
	}()

	if blank(userID, clientID, clientSecret) {
		return model.RenewNotAuthenticated, out, fmt.Errorf("%w: user id, client id and client secret are required", deps.Errors.InvalidArgument)
	}

	user, err := deps.GetUserByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		deps.MetricInc(deps.Metrics.RenewFailure)
		return model.RenewNotAuthenticated, out, nil
	}
	if err != nil {
		return model.RenewNotAuthenticated, out, err
	}

	if user.Status == model.StatusSuspended {
		deps.MetricInc(deps.Metrics.RenewFailure)
		return model.RenewSuspended, out, nil
	}
	forced, err := RequiresPasswordChange(user.Status)
	if err != nil {
		return model.RenewNotAuthenticated, out, err
	}
	if forced {
		deps.MetricInc(deps.Metrics.RenewFailure)
		return model.RenewPasswordExpired, out, nil
	}

	verified, err := deps.VerifyPersistentToken(ctx, userID, clientID, clientSecret)
	if err != nil {
		return model.RenewNotAuthenticated, out, err
	}
	result, err = RenewResultFromPersistentToken(verified)
	if err != nil {
		return model.RenewNotAuthenticated, out, err
	}
	if result != model.RenewAuthenticated {
		deps.MetricInc(deps.Metrics.RenewFailure)
		return result, out, nil
	}

	out.SessionToken, out.SessionExpiresAt, err = deps.IssueSession(ctx, user)
	if err != nil {
		return model.RenewNotAuthenticated, out, err
	}
	deps.MetricInc(deps.Metrics.RenewSuccess)
	deps.MetricInc(deps.Metrics.SessionIssued)
	return result, out, nil
}

func normalizeSignInDeps(deps *SignInDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
}
