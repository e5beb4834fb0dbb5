package accounts

import (
	"context"
	"time"

	"github.com/studydeck/accounts/internal/model"
)

type (
	User              = model.User
	UserStatus        = model.UserStatus
	PasswordHash      = model.PasswordHash
	PersistentToken   = model.PersistentToken
	Verification      = model.Verification
	VerificationToken = model.VerificationToken
	Purpose           = model.Purpose

	CredentialResult      = model.CredentialResult
	PersistentTokenResult = model.PersistentTokenResult
	VerificationResult    = model.VerificationResult
	SignInResult          = model.SignInResult
	RenewResult           = model.RenewResult
)

const (
	StatusOK                                        = model.StatusOK
	StatusEmailNotVerified                          = model.StatusEmailNotVerified
	StatusPasswordChangeRequired                    = model.StatusPasswordChangeRequired
	StatusEmailNotVerifiedAndPasswordChangeRequired = model.StatusEmailNotVerifiedAndPasswordChangeRequired
	StatusSuspended                                 = model.StatusSuspended
)

const (
	PurposeEmailVerification = model.PurposeEmailVerification
	PurposePasswordReset     = model.PurposePasswordReset
)

const (
	CredentialNotVerified        = model.CredentialNotVerified
	CredentialVerified           = model.CredentialVerified
	CredentialVerifiedAndExpired = model.CredentialVerifiedAndExpired

	PersistentTokenNoTokenAvailable = model.PersistentTokenNoTokenAvailable
	PersistentTokenNotVerified      = model.PersistentTokenNotVerified
	PersistentTokenVerified         = model.PersistentTokenVerified

	VerificationNotVerified  = model.VerificationNotVerified
	VerificationTokenExpired = model.VerificationTokenExpired
	VerificationVerified     = model.VerificationVerified

	SignInNotAuthenticated = model.SignInNotAuthenticated
	SignInAuthenticated    = model.SignInAuthenticated
	SignInPasswordExpired  = model.SignInPasswordExpired
	SignInLockedOut        = model.SignInLockedOut
	SignInSuspended        = model.SignInSuspended

	RenewNotAuthenticated = model.RenewNotAuthenticated
	RenewAuthenticated    = model.RenewAuthenticated
	RenewNoTokenAvailable = model.RenewNoTokenAvailable
	RenewPasswordExpired  = model.RenewPasswordExpired
	RenewSuspended        = model.RenewSuspended
)

// ParseUserStatus resolves a status by its String form.
func ParseUserStatus(name string) (UserStatus, error) {
	return model.ParseUserStatus(name)
}

// UserStore persists users, their password hashes and their persistent
// tokens. Lookups of missing records return an error matching
// stores.ErrNotFound. Filtered updates report whether a record matched.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CountUsersByEmail(ctx context.Context, email string) (int64, error)
	InsertUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id string, h PasswordHash) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to UserStatus) (bool, error)
	UpdateEmail(ctx context.Context, id, email string, status UserStatus) (bool, error)

	GetPersistentToken(ctx context.Context, userID, clientID string) (*PersistentToken, error)
	UpsertPersistentToken(ctx context.Context, userID string, tok PersistentToken) (bool, error)
	DeleteExpiredPersistentTokens(ctx context.Context, userID string, now time.Time) (int, error)
}

// VerificationStore persists verification records.
type VerificationStore interface {
	FindActiveVerification(ctx context.Context, userID, email string, purpose Purpose, now time.Time) (*Verification, error)
	CountActiveVerifications(ctx context.Context, userID, email string, purpose Purpose, now time.Time) (int64, error)
	InsertVerification(ctx context.Context, v *Verification) error
	ExpireVerification(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteVerifications(ctx context.Context, userID string) (int, error)
}

// Store is implemented by the Redis and Postgres document stores.
type Store interface {
	UserStore
	VerificationStore
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// RateCache backs sign-in attempt counting and resend cooldowns.
type RateCache interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	CooldownStatus(ctx context.Context, key string) (time.Duration, error)
	StartCooldown(ctx context.Context, key string, d time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Mail is a verification message handed to the Mailer. Token and Pepper must
// both reach the recipient, typically as query parameters of a link.
type Mail struct {
	UserID      string
	Username    string
	DisplayName string
	Token       VerificationToken
}

// Mailer delivers verification mails.
type Mailer interface {
	SendVerification(ctx context.Context, mail Mail) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, mail Mail) error

func (f MailerFunc) SendVerification(ctx context.Context, mail Mail) error { return f(ctx, mail) }

// SignInRequest is the input of Engine.SignIn.
type SignInRequest struct {
	Username     string
	Password     string
	RememberMe   bool
	ClientID     string
	ClientSecret string
}

// SignInResponse carries the session and, for remember-me sign-ins, the
// persistent token expiry. Fields are empty unless a session was issued.
type SignInResponse struct {
	Result                   SignInResult
	UserID                   string
	SessionToken             string
	SessionExpiresAt         time.Time
	PersistentTokenExpiresAt time.Time
}

// RenewResponse is the result of Engine.RenewToken.
type RenewResponse struct {
	Result           RenewResult
	UserID           string
	SessionToken     string
	SessionExpiresAt time.Time
}

// RegisterInput is the input of Engine.Register.
type RegisterInput struct {
	Username    string `validate:"required,min=3,max=64"`
	Email       string `validate:"required,email,max=254"`
	DisplayName string `validate:"max=128"`
	Password    string `validate:"required,min=8,max=1024"`
}

// ResetPasswordInput is the input of Engine.ResetPassword.
type ResetPasswordInput struct {
	UserID      string
	Email       string
	Token       string
	Pepper      string
	NewPassword string
}
