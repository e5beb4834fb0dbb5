package flows

import (
	"fmt"

	"github.com/studydeck/accounts/internal/model"
	"github.com/studydeck/accounts/password"
)

// CredentialResultFromPassword maps a hasher result onto the credential
// result reported to callers. expired reports whether the stored password is
// past its expiration date.
func CredentialResultFromPassword(r password.Result, expired bool) (model.CredentialResult, error) {
	switch r {
	case password.NotVerified:
		return model.CredentialNotVerified, nil
	case password.Verified, password.VerifiedAndRehashRequired:
		if expired {
			return model.CredentialVerifiedAndExpired, nil
		}
		return model.CredentialVerified, nil
	default:
		return 0, fmt.Errorf("%w: password result %d", model.ErrInvalidEnumValue, r)
	}
}

// PersistentTokenResultFromPassword maps a hasher result for a remember-me
// secret. Tokens are always hashed with the current version, so a
// rehash-required match counts as a mismatch.
func PersistentTokenResultFromPassword(r password.Result) (model.PersistentTokenResult, error) {
	switch r {
	case password.NotVerified, password.VerifiedAndRehashRequired:
		return model.PersistentTokenNotVerified, nil
	case password.Verified:
		return model.PersistentTokenVerified, nil
	default:
		return 0, fmt.Errorf("%w: password result %d", model.ErrInvalidEnumValue, r)
	}
}

// SignInResultFromCredential maps a credential check for a user in status
// onto a sign-in result.
func SignInResultFromCredential(r model.CredentialResult, status model.UserStatus) (model.SignInResult, error) {
	switch r {
	case model.CredentialNotVerified:
		return model.SignInNotAuthenticated, nil
	case model.CredentialVerifiedAndExpired:
		return model.SignInPasswordExpired, nil
	case model.CredentialVerified:
		forced, err := RequiresPasswordChange(status)
		if err != nil {
			return 0, err
		}
		if forced {
			return model.SignInPasswordExpired, nil
		}
		return model.SignInAuthenticated, nil
	default:
		return 0, fmt.Errorf("%w: credential result %d", model.ErrInvalidEnumValue, r)
	}
}

// RenewResultFromPersistentToken maps a remember-me check onto a renewal result.
func RenewResultFromPersistentToken(r model.PersistentTokenResult) (model.RenewResult, error) {
	switch r {
	case model.PersistentTokenNoTokenAvailable:
		return model.RenewNoTokenAvailable, nil
	case model.PersistentTokenNotVerified:
		return model.RenewNotAuthenticated, nil
	case model.PersistentTokenVerified:
		return model.RenewAuthenticated, nil
	default:
		return 0, fmt.Errorf("%w: persistent token result %d", model.ErrInvalidEnumValue, r)
	}
}

// RequiresPasswordChange reports whether status forces a password change.
func RequiresPasswordChange(status model.UserStatus) (bool, error) {
	switch status {
	case model.StatusPasswordChangeRequired, model.StatusEmailNotVerifiedAndPasswordChangeRequired:
		return true, nil
	case model.StatusOK, model.StatusEmailNotVerified, model.StatusSuspended:
		return false, nil
	default:
		return false, fmt.Errorf("%w: user status %d", model.ErrInvalidEnumValue, status)
	}
}

// StatusAfterPasswordSave clears the forced-change flag.
func StatusAfterPasswordSave(status model.UserStatus) (model.UserStatus, error) {
	switch status {
	case model.StatusPasswordChangeRequired:
		return model.StatusOK, nil
	case model.StatusEmailNotVerifiedAndPasswordChangeRequired:
		return model.StatusEmailNotVerified, nil
	case model.StatusOK, model.StatusEmailNotVerified, model.StatusSuspended:
		return status, nil
	default:
		return 0, fmt.Errorf("%w: user status %d", model.ErrInvalidEnumValue, status)
	}
}

// StatusAfterVerification applies the transition a successful verification
// of purpose grants.
func StatusAfterVerification(purpose model.Purpose, status model.UserStatus) (model.UserStatus, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: user status %d", model.ErrInvalidEnumValue, status)
	}
	switch purpose {
	case model.PurposeEmailVerification:
		switch status {
		case model.StatusEmailNotVerified:
			return model.StatusOK, nil
		case model.StatusEmailNotVerifiedAndPasswordChangeRequired:
			return model.StatusPasswordChangeRequired, nil
		}
		return status, nil
	case model.PurposePasswordReset:
		switch status {
		case model.StatusPasswordChangeRequired:
			return model.StatusOK, nil
		case model.StatusEmailNotVerifiedAndPasswordChangeRequired:
			return model.StatusEmailNotVerified, nil
		}
		return status, nil
	default:
		return 0, fmt.Errorf("%w: purpose %d", model.ErrInvalidEnumValue, purpose)
	}
}

// StatusRequiringVerification returns the status a user moves to after
// changing email: the email-not-verified counterpart of status.
func StatusRequiringVerification(status model.UserStatus) (model.UserStatus, error) {
	switch status {
	case model.StatusOK, model.StatusEmailNotVerified:
		return model.StatusEmailNotVerified, nil
	case model.StatusPasswordChangeRequired, model.StatusEmailNotVerifiedAndPasswordChangeRequired:
		return model.StatusEmailNotVerifiedAndPasswordChangeRequired, nil
	case model.StatusSuspended:
		return model.StatusSuspended, nil
	default:
		return 0, fmt.Errorf("%w: user status %d", model.ErrInvalidEnumValue, status)
	}
}
