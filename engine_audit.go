package accounts

import (
	"context"
	"errors"
)

const (
	auditEventSignIn              = "sign_in"
	auditEventRenew               = "renew_token"
	auditEventRegister            = "register"
	auditEventPasswordChange      = "password_change"
	auditEventPasswordReset       = "password_reset"
	auditEventVerificationRequest = "verification_request"
	auditEventVerificationConfirm = "verification_confirm"
	auditEventEmailChange         = "email_change"
	auditEventStatusChange        = "status_change"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
)

// AuditErrorCode is the stable error label written to audit events.
type AuditErrorCode string

const (
	auditErrInvalidArgument    AuditErrorCode = "invalid_argument"
	auditErrInvalidOperation   AuditErrorCode = "invalid_operation"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUserSuspended      AuditErrorCode = "user_suspended"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrVerification       AuditErrorCode = "verification_failed"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	info := RequestInfoFromContext(ctx)
	event := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		UserID:      userID,
		Fingerprint: info.Fingerprint(),
		RemoteIP:    info.RemoteIP,
		UserAgent:   info.UserAgent,
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidArgument):
		return auditErrInvalidArgument
	case errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrInvalidEnumValue):
		return auditErrInvalidOperation
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUserDoesNotExist):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserSuspended):
		return auditErrUserSuspended
	case errors.Is(err, ErrUserAlreadyExists):
		return auditErrDuplicate
	case errors.Is(err, ErrPassword):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrResendCooldown):
		return auditErrRateLimited
	case errors.Is(err, ErrVerification):
		return auditErrVerification
	default:
		return auditErrInternal
	}
}
