// Package stores persists users, persistent tokens and verifications.
//
// [RedisStore] keeps JSON documents in Redis; the postgres sub-package keeps
// the same records in tables. Both implement the filtered updates the flows
// rely on: an update whose filter no longer matches reports false without
// an error, so the caller can treat a lost race as a no-op.
//
// # What this package must NOT do
//
//   - Hash, compare or log secrets.
//   - Import the accounts root package or internal/flows.
package stores
