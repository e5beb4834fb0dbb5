// Package accounts implements the credential core of studydeck accounts:
// versioned password hashing, remember-me persistent tokens, email and
// password-reset verification, and sign-in orchestration with lockout.
//
// An [Engine] is assembled with a [Builder] from a [Config], a document
// [Store] (Redis or Postgres) and a [RateCache]. Engine methods are safe to
// call from multiple goroutines.
//
// # Results and errors
//
// Credential mismatches are result values ([CredentialNotVerified],
// [SignInNotAuthenticated], [VerificationTokenExpired], ...). Errors are
// reserved for invalid input ([ErrInvalidArgument]), policy violations
// ([ErrPassword], [ErrVerification]) and infrastructure failures, so callers
// can tell a bad password from an outage.
//
// # Architecture boundaries
//
// accounts is the public surface. Workflow logic lives in internal/flows and
// only sees function-typed dependencies; storage adapters live in
// internal/stores. Neither imports this package.
//
// # What this package must NOT do
//
//   - Log or audit secrets: password hashes, salts, peppers, tokens or client
//     secrets.
//   - Abandon a multi-step operation halfway once its first write succeeded.
//   - Keep global state. The current password version is part of Config.
package accounts
