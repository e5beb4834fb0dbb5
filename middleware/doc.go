// Package middleware adapts the accounts engine to net/http.
//
// [CaptureRequestInfo] records the client metadata that sign-in audit
// records fingerprint. [RequireSession] and [RequireStatus] check the
// bearer session token through [accounts.Engine.ParseSession] and put the
// claims on the request context.
//
// # What this package must NOT do
//
//   - Sign or verify tokens itself (delegates to Engine).
//   - Touch the document store or the rate cache.
//   - Render response bodies beyond the bare status text.
package middleware
