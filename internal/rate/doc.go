// Package rate provides the Redis-backed rate-limit and cooldown cache used by
// sign-in lockout and verification resend throttling.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Cooldowns
// are SET NX PX markers whose remaining TTL is the cooldown status.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the accounts module.
package rate
