// Package flows holds the orchestration behind each Engine operation.
//
// A flow (RunSavePassword, RunVerifyToken, RunSignIn, RunRenewToken, ...) takes a
// typed dependency struct of function fields and returns a result enum.
// The Engine builds those structs from its store, hasher, limiters and audit
// dispatcher; tests build them from in-memory fakes.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the accounts root package (import cycle).
//   - Perform I/O directly. All I/O goes through the dependency structs.
package flows
