package internaldefs

import (
	"github.com/studydeck/accounts"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   accounts.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   accounts.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: accounts.MetricSignInSuccess, Name: "accounts_sign_in_success_total", Help: "Sign-ins that authenticated."},
	{ID: accounts.MetricSignInFailure, Name: "accounts_sign_in_failure_total", Help: "Sign-ins rejected for unknown user or wrong password."},
	{ID: accounts.MetricSignInLockedOut, Name: "accounts_sign_in_locked_out_total", Help: "Sign-ins rejected by the attempt limit."},
	{ID: accounts.MetricSignInSuspended, Name: "accounts_sign_in_suspended_total", Help: "Sign-ins by suspended users."},
	{ID: accounts.MetricSignInPasswordExpired, Name: "accounts_sign_in_password_expired_total", Help: "Sign-ins that require a password change."},
	{ID: accounts.MetricRenewSuccess, Name: "accounts_renew_success_total", Help: "Sessions renewed from a persistent token."},
	{ID: accounts.MetricRenewFailure, Name: "accounts_renew_failure_total", Help: "Rejected session renewals."},
	{ID: accounts.MetricSessionIssued, Name: "accounts_session_issued_total", Help: "Issued session tokens."},
	{ID: accounts.MetricPasswordSaved, Name: "accounts_password_saved_total", Help: "Stored passwords."},
	{ID: accounts.MetricPasswordRehashed, Name: "accounts_password_rehashed_total", Help: "Passwords upgraded to the current hashing version."},
	{ID: accounts.MetricPasswordVerified, Name: "accounts_password_verified_total", Help: "Successful password checks."},
	{ID: accounts.MetricPasswordMismatched, Name: "accounts_password_mismatched_total", Help: "Failed password checks."},
	{ID: accounts.MetricPersistentTokenIssued, Name: "accounts_persistent_token_issued_total", Help: "Issued persistent tokens."},
	{ID: accounts.MetricPersistentTokenVerified, Name: "accounts_persistent_token_verified_total", Help: "Accepted persistent tokens."},
	{ID: accounts.MetricPersistentTokenRejected, Name: "accounts_persistent_token_rejected_total", Help: "Persistent tokens with a wrong secret."},
	{ID: accounts.MetricPersistentTokenMissing, Name: "accounts_persistent_token_missing_total", Help: "Persistent token checks without a usable token."},
	{ID: accounts.MetricPersistentTokenPurged, Name: "accounts_persistent_token_purged_total", Help: "Expired persistent tokens removed."},
	{ID: accounts.MetricVerificationIssued, Name: "accounts_verification_issued_total", Help: "Created verifications."},
	{ID: accounts.MetricVerificationVerified, Name: "accounts_verification_verified_total", Help: "Consumed verification tokens."},
	{ID: accounts.MetricVerificationRejected, Name: "accounts_verification_rejected_total", Help: "Rejected verification tokens."},
	{ID: accounts.MetricVerificationExpired, Name: "accounts_verification_expired_total", Help: "Verification tokens presented after expiry."},
	{ID: accounts.MetricVerificationSuperseded, Name: "accounts_verification_superseded_total", Help: "Verifications expired by a newer one."},
	{ID: accounts.MetricVerificationMailSent, Name: "accounts_verification_mail_sent_total", Help: "Verification mails handed to the mailer."},
	{ID: accounts.MetricAccountRegistered, Name: "accounts_account_registered_total", Help: "Registered accounts."},
	{ID: accounts.MetricAccountStatusChanged, Name: "accounts_account_status_changed_total", Help: "Administrative and email-change status transitions."},
	{ID: accounts.MetricRateLimitHit, Name: "accounts_rate_limit_hit_total", Help: "Requests denied by a rate limit or cooldown."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: accounts.MetricSignInLatency, Name: "accounts_sign_in_latency_seconds", Help: "Sign-in latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds as instrument-name suffixes.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into Prometheus-style running
// totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
