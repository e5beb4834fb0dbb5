package accounts

import (
	"context"

	"github.com/studydeck/accounts/internal/flows"
)

// SavePassword replaces the password of userID, enforcing the minimum
// password age and, when enabled, rejecting the current password. A forced
// password change is cleared from the user's status.
func (e *Engine) SavePassword(ctx context.Context, userID, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return flows.RunSavePassword(ctx, userID, newPassword, e.credentialDeps())
}

// VerifyPassword checks candidate against the stored password of userID.
// Hashes made with a non-current version are transparently upgraded on
// success. A mismatch is CredentialNotVerified, not an error.
func (e *Engine) VerifyPassword(ctx context.Context, userID, candidate string) (CredentialResult, error) {
	if err := e.ready(); err != nil {
		return CredentialNotVerified, err
	}
	return flows.RunVerifyPassword(ctx, userID, candidate, e.credentialDeps())
}
