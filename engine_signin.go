package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studydeck/accounts/internal/flows"
)

// SignIn authenticates a username and password. Bad credentials, lockouts
// and suspensions are result values; errors report invalid input or
// infrastructure failures. A session is issued for SignInAuthenticated and
// SignInPasswordExpired, a persistent token only for an authenticated
// remember-me sign-in. Attach request metadata with WithRequestInfo to have
// it fingerprinted into the audit record.
func (e *Engine) SignIn(ctx context.Context, req SignInRequest) (SignInResponse, error) {
	if err := e.ready(); err != nil {
		return SignInResponse{Result: SignInNotAuthenticated}, err
	}

	start := time.Now()
	result, out, err := flows.RunSignIn(ctx, flows.SignInInput{
		Username:     req.Username,
		Password:     req.Password,
		RememberMe:   req.RememberMe,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	}, e.signInDeps())
	e.metrics.Observe(MetricSignInLatency, time.Since(start))

	return SignInResponse{
		Result:                   result,
		UserID:                   out.UserID,
		SessionToken:             out.SessionToken,
		SessionExpiresAt:         out.SessionExpiresAt,
		PersistentTokenExpiresAt: out.PersistentTokenExpiresAt,
	}, err
}

// RenewToken issues a new session from a persistent token. Users that must
// change their password get RenewPasswordExpired without the token being
// checked.
func (e *Engine) RenewToken(ctx context.Context, userID, clientID, clientSecret string) (RenewResponse, error) {
	if err := e.ready(); err != nil {
		return RenewResponse{Result: RenewNotAuthenticated}, err
	}

	result, out, err := flows.RunRenewToken(ctx, userID, clientID, clientSecret, e.signInDeps())
	return RenewResponse{
		Result:           result,
		UserID:           out.UserID,
		SessionToken:     out.SessionToken,
		SessionExpiresAt: out.SessionExpiresAt,
	}, err
}

// UnlockSignIn clears the sign-in attempt counter of userID.
func (e *Engine) UnlockSignIn(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}
	return e.signInLimiter.Reset(ctx, userID)
}
