package accounts

import (
	"errors"
	"fmt"

	"github.com/studydeck/accounts/internal/limiters"
	"github.com/studydeck/accounts/internal/model"
)

var (
	// ErrInvalidArgument is returned for blank or malformed inputs, before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidOperation is returned when configuration or stored data makes an
	// operation impossible, such as an unknown hash algorithm or version.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidEnumValue is returned by result and status mappings for values
	// they do not cover.
	ErrInvalidEnumValue = model.ErrInvalidEnumValue
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	ErrUserDoesNotExist  = errors.New("user does not exist")
	ErrUserAlreadyExists = errors.New("username or email already in use")
	ErrUserSuspended     = errors.New("user is suspended")
	// ErrInvalidCredentials is returned by ChangePassword when the current
	// password does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPassword is the category of password policy violations.
	ErrPassword                = errors.New("password policy violation")
	ErrPasswordIsIdentical     = fmt.Errorf("%w: new password matches the current one", ErrPassword)
	ErrPasswordChangeTooRecent = fmt.Errorf("%w: password was changed too recently", ErrPassword)

	// ErrVerification is the category of verification workflow failures.
	ErrVerification          = errors.New("verification failed")
	ErrVerificationTooRecent = fmt.Errorf("%w: a verification was issued too recently", ErrVerification)
	ErrResendCooldown        = fmt.Errorf("%w: %w", ErrVerification, limiters.ErrResendCooldown)
)
