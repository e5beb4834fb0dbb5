package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/studydeck/accounts/internal/flows"
	"github.com/studydeck/accounts/internal/limiters"
	"github.com/studydeck/accounts/internal/model"
)

var inputValidator = validator.New(validator.WithRequiredStructEnabled())

// Register creates an account in StatusEmailNotVerified, stores its password
// and mails an email verification token. Once the user record is written the
// remaining steps run to completion even if ctx is canceled. If storing the
// password or mailing fails the user is removed again and Register may be
// retried with the same input.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := inputValidator.StructCtx(ctx, in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if strings.TrimSpace(in.Password) == "" {
		return nil, fmt.Errorf("%w: password is blank", ErrInvalidArgument)
	}

	user, err := e.register(ctx, in)
	e.emitAudit(ctx, auditEventRegister, err == nil, userIDOf(user), err, func() map[string]string {
		return map[string]string{"username": in.Username}
	})
	return user, err
}

func (e *Engine) register(ctx context.Context, in RegisterInput) (*User, error) {
	if _, err := e.store.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	n, err := e.store.CountUsersByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrUserAlreadyExists
	}

	user := &User{
		ID:          e.newID(),
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		Status:      StatusEmailNotVerified,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	err = e.unitOfWork(ctx, func(ctx context.Context) error {
		if err := e.SavePassword(ctx, user.ID, in.Password); err != nil {
			return err
		}
		return e.sendVerification(ctx, user, user.Email, PurposeEmailVerification)
	})
	if err != nil {
		e.discardRegistration(ctx, user.ID, err)
		return nil, err
	}
	e.metricInc(MetricAccountRegistered)

	stored, err := e.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return user, nil
	}
	return stored, nil
}

// discardRegistration removes a user whose registration failed after the
// insert so the same username and email can register again.
func (e *Engine) discardRegistration(ctx context.Context, userID string, cause error) {
	err := e.unitOfWork(ctx, func(ctx context.Context) error {
		if _, err := e.store.DeleteVerifications(ctx, userID); err != nil {
			return err
		}
		return e.store.DeleteUser(ctx, userID)
	})
	if err != nil {
		e.log.Error(ctx, "failed registration left a user behind", "user_id", userID, "cause", cause, "error", err)
	}
}

// ResendVerificationEmail mails a fresh email verification token to the
// current address of userID. Fails with ErrResendCooldown while the previous
// mail's cooldown runs and with ErrVerificationTooRecent inside the minimum
// verification age.
func (e *Engine) ResendVerificationEmail(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == StatusSuspended {
		return ErrUserSuspended
	}
	if user.Status != StatusEmailNotVerified && user.Status != StatusEmailNotVerifiedAndPasswordChangeRequired {
		return fmt.Errorf("%w: email is already verified", ErrInvalidOperation)
	}
	if err := e.checkResendCooldown(ctx, user.ID, PurposeEmailVerification); err != nil {
		return err
	}
	return e.unitOfWork(ctx, func(ctx context.Context) error {
		return e.sendVerification(ctx, user, user.Email, PurposeEmailVerification)
	})
}

// RequestPasswordReset mails a password reset token to the owner of email.
// Unknown addresses, suspended users and throttled requests all return nil
// so callers cannot probe which addresses are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is blank", ErrInvalidArgument)
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		e.log.Debug(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	if user.Status == StatusSuspended {
		e.log.Info(ctx, "password reset requested for suspended user", "user_id", user.ID)
		return nil
	}

	if err := e.checkResendCooldown(ctx, user.ID, PurposePasswordReset); err != nil {
		if errors.Is(err, ErrResendCooldown) {
			return nil
		}
		return err
	}
	err = e.unitOfWork(ctx, func(ctx context.Context) error {
		return e.sendVerification(ctx, user, user.Email, PurposePasswordReset)
	})
	if errors.Is(err, ErrVerificationTooRecent) {
		e.log.Info(ctx, "password reset requested inside the minimum verification age", "user_id", user.ID)
		return nil
	}
	return err
}

// ResetPassword consumes a password reset token and stores NewPassword. The
// minimum password age does not apply. A rejected token is reported through
// the result, not as an error. When NewPassword repeats the current one and
// reuse is prevented, ErrPasswordIsIdentical is returned and the token stays
// usable.
func (e *Engine) ResetPassword(ctx context.Context, in ResetPasswordInput) (VerificationResult, error) {
	if err := e.ready(); err != nil {
		return VerificationNotVerified, err
	}
	if strings.TrimSpace(in.NewPassword) == "" {
		return VerificationNotVerified, fmt.Errorf("%w: password is blank", ErrInvalidArgument)
	}

	cdeps := e.credentialDeps()
	cdeps.MinPasswordAge = 0
	vdeps := e.verificationDeps()
	vdeps.BeforeConsume = func(ctx context.Context) error {
		return flows.RunCheckPasswordReuse(ctx, in.UserID, in.NewPassword, cdeps)
	}

	result, err := flows.RunVerifyToken(ctx, in.UserID, in.Email, PurposePasswordReset, in.Token, in.Pepper, vdeps)
	if err == nil && result == VerificationVerified {
		err = e.unitOfWork(ctx, func(ctx context.Context) error {
			return flows.RunSavePassword(ctx, in.UserID, in.NewPassword, cdeps)
		})
	}

	e.emitAudit(ctx, auditEventPasswordReset, err == nil && result == VerificationVerified, in.UserID, err, func() map[string]string {
		return map[string]string{"result": result.String()}
	})
	if err != nil {
		return VerificationNotVerified, err
	}
	return result, nil
}

// ChangeEmail moves userID to newEmail and mails a verification token to the
// new address. The user must verify the address again.
func (e *Engine) ChangeEmail(ctx context.Context, userID, newEmail string) error {
	if err := e.ready(); err != nil {
		return err
	}
	newEmail = strings.TrimSpace(newEmail)
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}
	if err := inputValidator.Var(newEmail, "required,email,max=254"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	err := e.changeEmail(ctx, userID, newEmail)
	e.emitAudit(ctx, auditEventEmailChange, err == nil, userID, err, nil)
	return err
}

func (e *Engine) changeEmail(ctx context.Context, userID, newEmail string) error {
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == StatusSuspended {
		return ErrUserSuspended
	}
	if strings.EqualFold(user.Email, newEmail) {
		return fmt.Errorf("%w: email is unchanged", ErrInvalidArgument)
	}

	next, err := flows.StatusRequiringVerification(user.Status)
	if err != nil {
		return err
	}
	ok, err := e.store.UpdateEmail(ctx, user.ID, newEmail, next)
	if errors.Is(err, model.ErrConflict) {
		return ErrUserAlreadyExists
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserDoesNotExist
	}
	if next != user.Status {
		e.metricInc(MetricAccountStatusChanged)
	}
	user.Email = newEmail
	user.Status = next

	return e.unitOfWork(ctx, func(ctx context.Context) error {
		return e.sendVerification(ctx, user, newEmail, PurposeEmailVerification)
	})
}

// ChangePassword replaces the password of userID after checking the current
// one. A wrong current password fails with ErrInvalidCredentials.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(currentPassword) == "" || strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("%w: user id, current and new password are required", ErrInvalidArgument)
	}

	err := e.changePassword(ctx, userID, currentPassword, newPassword)
	e.emitAudit(ctx, auditEventPasswordChange, err == nil, userID, err, nil)
	return err
}

func (e *Engine) changePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	res, err := e.VerifyPassword(ctx, userID, currentPassword)
	if err != nil {
		return err
	}
	if res == CredentialNotVerified {
		return ErrInvalidCredentials
	}
	return e.SavePassword(ctx, userID, newPassword)
}

// SetUserStatus sets the status of userID, typically to suspend or
// reinstate an account. A concurrent status change wins and is logged.
func (e *Engine) SetUserStatus(ctx context.Context, userID string, status UserStatus) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}
	if !status.Valid() {
		return fmt.Errorf("%w: user status %d", ErrInvalidEnumValue, status)
	}

	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == status {
		return nil
	}

	ok, err := e.store.UpdateStatus(ctx, user.ID, user.Status, status)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Warn(ctx, "status update matched no user; did another request modify it?",
			"user_id", user.ID, "from", user.Status.String(), "to", status.String())
	} else {
		e.metricInc(MetricAccountStatusChanged)
	}
	e.emitAudit(ctx, auditEventStatusChange, ok, user.ID, nil, func() map[string]string {
		return map[string]string{"from": user.Status.String(), "to": status.String()}
	})
	return nil
}

// DeleteAccount removes userID together with its verifications and
// persistent tokens.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is blank", ErrInvalidArgument)
	}

	return e.unitOfWork(ctx, func(ctx context.Context) error {
		if _, err := e.store.DeleteVerifications(ctx, userID); err != nil {
			return err
		}
		err := e.store.DeleteUser(ctx, userID)
		if errors.Is(err, model.ErrNotFound) {
			return ErrUserDoesNotExist
		}
		return err
	})
}

// sendVerification generates a verification of purpose for email, mails it
// and starts the resend cooldown.
func (e *Engine) sendVerification(ctx context.Context, user *User, email string, purpose Purpose) error {
	tok, err := e.GenerateVerificationToken(ctx, user.ID, email, purpose)
	if err == nil {
		err = e.mailer.SendVerification(ctx, Mail{
			UserID:      user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			Token:       tok,
		})
	}
	if err == nil {
		e.metricInc(MetricVerificationMailSent)
		if cerr := e.resendLimiter.Start(ctx, user.ID, purpose.String()); cerr != nil {
			e.log.Warn(ctx, "resend cooldown not started", "user_id", user.ID, "error", cerr)
		}
	}

	e.emitAudit(ctx, auditEventVerificationRequest, err == nil, user.ID, err, func() map[string]string {
		return map[string]string{"purpose": purpose.String()}
	})
	return err
}

func (e *Engine) checkResendCooldown(ctx context.Context, userID string, purpose Purpose) error {
	remaining, err := e.resendLimiter.Check(ctx, userID, purpose.String())
	if errors.Is(err, limiters.ErrResendCooldown) {
		e.emitRateLimit(ctx, "verification_resend", func() map[string]string {
			return map[string]string{
				"user_id":   userID,
				"purpose":   purpose.String(),
				"remaining": remaining.String(),
			}
		})
		return ErrResendCooldown
	}
	return err
}

func (e *Engine) loadUser(ctx context.Context, userID string) (*User, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrUserDoesNotExist
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func userIDOf(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
