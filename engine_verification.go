package accounts

import (
	"context"

	"github.com/studydeck/accounts/internal/flows"
)

// GenerateVerificationToken creates the verification of (userID, email,
// purpose), expiring the previous one. Fails with ErrVerificationTooRecent
// while the previous verification is younger than MinVerificationAge. The
// returned token holds the only copy of the pepper.
func (e *Engine) GenerateVerificationToken(ctx context.Context, userID, email string, purpose Purpose) (VerificationToken, error) {
	if err := e.ready(); err != nil {
		return VerificationToken{}, err
	}
	return flows.RunGenerateVerificationToken(ctx, userID, email, purpose, e.verificationDeps())
}

// VerifyToken consumes a verification token. On VerificationVerified the
// token can no longer be used and the user's status advances: email
// verification clears the unverified flag, password reset clears a forced
// password change.
func (e *Engine) VerifyToken(ctx context.Context, userID, email string, purpose Purpose, token, pepper string) (VerificationResult, error) {
	if err := e.ready(); err != nil {
		return VerificationNotVerified, err
	}
	result, err := flows.RunVerifyToken(ctx, userID, email, purpose, token, pepper, e.verificationDeps())
	if purpose == PurposeEmailVerification {
		e.emitAudit(ctx, auditEventVerificationConfirm, err == nil && result == VerificationVerified, userID, err, func() map[string]string {
			return map[string]string{"purpose": purpose.String(), "result": result.String()}
		})
	}
	return result, err
}
