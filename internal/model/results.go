package model

import "fmt"

// CredentialResult is the outcome of checking a password against a user's
// stored credential.
type CredentialResult uint8

const (
	CredentialNotVerified CredentialResult = iota
	CredentialVerified
	CredentialVerifiedAndExpired
)

func (r CredentialResult) String() string {
	switch r {
	case CredentialNotVerified:
		return "NotVerified"
	case CredentialVerified:
		return "Verified"
	case CredentialVerifiedAndExpired:
		return "VerifiedAndExpired"
	default:
		return fmt.Sprintf("CredentialResult(%d)", uint8(r))
	}
}

// PersistentTokenResult is the outcome of checking a remember-me secret.
type PersistentTokenResult uint8

const (
	PersistentTokenNoTokenAvailable PersistentTokenResult = iota
	PersistentTokenNotVerified
	PersistentTokenVerified
)

func (r PersistentTokenResult) String() string {
	switch r {
	case PersistentTokenNoTokenAvailable:
		return "NoTokenAvailable"
	case PersistentTokenNotVerified:
		return "NotVerified"
	case PersistentTokenVerified:
		return "Verified"
	default:
		return fmt.Sprintf("PersistentTokenResult(%d)", uint8(r))
	}
}

// VerificationResult is the outcome of checking a verification token.
type VerificationResult uint8

const (
	VerificationNotVerified VerificationResult = iota
	VerificationTokenExpired
	VerificationVerified
)

func (r VerificationResult) String() string {
	switch r {
	case VerificationNotVerified:
		return "NotVerified"
	case VerificationTokenExpired:
		return "TokenExpired"
	case VerificationVerified:
		return "Verified"
	default:
		return fmt.Sprintf("VerificationResult(%d)", uint8(r))
	}
}

// SignInResult is the outcome of a username/password sign-in.
type SignInResult uint8

const (
	SignInNotAuthenticated SignInResult = iota
	SignInAuthenticated
	SignInPasswordExpired
	SignInLockedOut
	SignInSuspended
)

func (r SignInResult) String() string {
	switch r {
	case SignInNotAuthenticated:
		return "NotAuthenticated"
	case SignInAuthenticated:
		return "Authenticated"
	case SignInPasswordExpired:
		return "PasswordExpired"
	case SignInLockedOut:
		return "LockedOut"
	case SignInSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("SignInResult(%d)", uint8(r))
	}
}

// RenewResult is the outcome of renewing a session with a persistent token.
type RenewResult uint8

const (
	RenewNotAuthenticated RenewResult = iota
	RenewAuthenticated
	RenewNoTokenAvailable
	RenewPasswordExpired
	RenewSuspended
)

func (r RenewResult) String() string {
	switch r {
	case RenewNotAuthenticated:
		return "NotAuthenticated"
	case RenewAuthenticated:
		return "Authenticated"
	case RenewNoTokenAvailable:
		return "NoTokenAvailable"
	case RenewPasswordExpired:
		return "PasswordExpired"
	case RenewSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("RenewResult(%d)", uint8(r))
	}
}
