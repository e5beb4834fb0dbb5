package accounts

import (
	"context"
	"io"
	"time"

	"github.com/studydeck/accounts/internal/audit"
	"github.com/studydeck/accounts/internal/flows"
	"github.com/studydeck/accounts/internal/limiters"
	"github.com/studydeck/accounts/internal/logging"
	"github.com/studydeck/accounts/jwt"
	"github.com/studydeck/accounts/password"
)

// Engine runs the account workflows on top of a Store. Engines are built by
// a Builder and are safe for concurrent use.
type Engine struct {
	config        Config
	store         Store
	registry      *password.Registry
	hasher        *password.Hasher
	sessions      *jwt.Manager
	signInLimiter *limiters.SignInLimiter
	resendLimiter *limiters.ResendLimiter
	mailer        Mailer
	clock         Clock
	random        io.Reader
	newID         func() string
	log           logging.Logger
	audit         *audit.Dispatcher
	metrics       *Metrics
}

// Close flushes pending audit events and stops the audit worker.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// PasswordVersions lists the registered hashing versions.
func (e *Engine) PasswordVersions() []string {
	return e.registry.Names()
}

// CurrentPasswordVersion is the version new hashes are created with.
func (e *Engine) CurrentPasswordVersion() password.Version {
	return e.hasher.Current()
}

// ParseSession validates a session token issued by SignIn or RenewToken.
func (e *Engine) ParseSession(tokenStr string) (*jwt.SessionClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.sessions == nil {
		return nil, ErrInvalidOperation
	}
	return e.sessions.Parse(tokenStr)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) flowMetricAdd(id int, n uint64) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Add(MetricID(id), n)
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	e.log.Warn(ctx, msg, args...)
}

// unitOfWork runs fn on a context that survives cancellation of ctx, bounded
// by Store.UnitOfWorkTimeout. Steps after the first durable write must not
// be abandoned halfway.
func (e *Engine) unitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Store.UnitOfWorkTimeout)
	defer cancel()
	return fn(ctx)
}

/*
====================================
FLOW DEPENDENCIES
====================================
*/

func (e *Engine) credentialDeps() flows.CredentialDeps {
	return flows.CredentialDeps{
		Hasher:         e.hasher,
		MinPasswordAge: e.config.Password.MinPasswordAge,
		MaxPasswordAge: e.config.Password.MaxPasswordAge,
		PreventReuse:   e.config.Password.PreventReuse,
		Now:            e.now,

		GetUser:            e.store.GetUserByID,
		UpdatePasswordHash: e.store.UpdatePasswordHash,
		UpdateStatus:       e.store.UpdateStatus,

		Warn:      e.warn,
		MetricInc: e.flowMetricInc,

		Metrics: flows.CredentialMetrics{
			PasswordSaved:      int(MetricPasswordSaved),
			PasswordRehashed:   int(MetricPasswordRehashed),
			PasswordVerified:   int(MetricPasswordVerified),
			PasswordMismatched: int(MetricPasswordMismatched),
		},
		Errors: flows.CredentialErrors{
			InvalidArgument:         ErrInvalidArgument,
			InvalidOperation:        ErrInvalidOperation,
			UserDoesNotExist:        ErrUserDoesNotExist,
			PasswordIsIdentical:     ErrPasswordIsIdentical,
			PasswordChangeTooRecent: ErrPasswordChangeTooRecent,
		},
	}
}

func (e *Engine) persistentTokenDeps() flows.PersistentTokenDeps {
	return flows.PersistentTokenDeps{
		Hasher:      e.hasher,
		MaxTokenAge: e.config.PersistentToken.MaxTokenAge,
		Now:         e.now,

		GetUser:      e.store.GetUserByID,
		GetToken:     e.store.GetPersistentToken,
		UpsertToken:  e.store.UpsertPersistentToken,
		PurgeExpired: e.store.DeleteExpiredPersistentTokens,

		Warn:      e.warn,
		MetricInc: e.flowMetricInc,
		MetricAdd: e.flowMetricAdd,

		Metrics: flows.PersistentTokenMetrics{
			PersistentTokenIssued:   int(MetricPersistentTokenIssued),
			PersistentTokenVerified: int(MetricPersistentTokenVerified),
			PersistentTokenRejected: int(MetricPersistentTokenRejected),
			PersistentTokenMissing:  int(MetricPersistentTokenMissing),
			PersistentTokenPurged:   int(MetricPersistentTokenPurged),
		},
		Errors: flows.PersistentTokenErrors{
			InvalidArgument:  ErrInvalidArgument,
			InvalidOperation: ErrInvalidOperation,
			UserDoesNotExist: ErrUserDoesNotExist,
		},
	}
}

func (e *Engine) verificationDeps() flows.VerificationDeps {
	return flows.VerificationDeps{
		HashAlgorithm:      e.config.Verification.HashAlgorithm,
		SaltLength:         e.config.Verification.SaltLength,
		PepperLength:       e.config.Verification.PepperLength,
		MinVerificationAge: e.config.Verification.MinVerificationAge,
		MaxVerificationAge: e.config.Verification.MaxVerificationAge,
		Now:                e.now,
		Random:             e.random,
		NewID:              e.newID,

		FindActive:   e.store.FindActiveVerification,
		Insert:       e.store.InsertVerification,
		Expire:       e.store.ExpireVerification,
		GetUser:      e.store.GetUserByID,
		UpdateStatus: e.store.UpdateStatus,

		Warn:      e.warn,
		MetricInc: e.flowMetricInc,

		Metrics: flows.VerificationMetrics{
			VerificationIssued:     int(MetricVerificationIssued),
			VerificationVerified:   int(MetricVerificationVerified),
			VerificationRejected:   int(MetricVerificationRejected),
			VerificationExpired:    int(MetricVerificationExpired),
			VerificationSuperseded: int(MetricVerificationSuperseded),
		},
		Errors: flows.VerificationErrors{
			InvalidArgument:       ErrInvalidArgument,
			InvalidOperation:      ErrInvalidOperation,
			UserDoesNotExist:      ErrUserDoesNotExist,
			VerificationTooRecent: ErrVerificationTooRecent,
		},
	}
}

func (e *Engine) signInDeps() flows.SignInDeps {
	return flows.SignInDeps{
		MaxPasswordAttempts: e.config.SignIn.MaxPasswordAttempts,

		GetUserByUsername:     e.store.GetUserByUsername,
		GetUserByID:           e.store.GetUserByID,
		IncrementAttempts:     e.signInLimiter.RecordAttempt,
		VerifyPassword:        e.VerifyPassword,
		VerifyPersistentToken: e.VerifyPersistentToken,
		SavePersistentToken:   e.SavePersistentToken,
		IssueSession:          e.issueSession,

		MetricInc:     e.flowMetricInc,
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,

		Metrics: flows.SignInMetrics{
			SignInSuccess:         int(MetricSignInSuccess),
			SignInFailure:         int(MetricSignInFailure),
			SignInLockedOut:       int(MetricSignInLockedOut),
			SignInSuspended:       int(MetricSignInSuspended),
			SignInPasswordExpired: int(MetricSignInPasswordExpired),
			RenewSuccess:          int(MetricRenewSuccess),
			RenewFailure:          int(MetricRenewFailure),
			SessionIssued:         int(MetricSessionIssued),
		},
		Events: flows.SignInEvents{
			SignIn: auditEventSignIn,
			Renew:  auditEventRenew,
		},
		Errors: flows.SignInErrors{
			InvalidArgument: ErrInvalidArgument,
		},
	}
}

func (e *Engine) issueSession(_ context.Context, user *User) (string, time.Time, error) {
	if e.sessions == nil {
		return "", time.Time{}, ErrInvalidOperation
	}
	return e.sessions.Issue(user.ID, user.Username, uint8(user.Status))
}
