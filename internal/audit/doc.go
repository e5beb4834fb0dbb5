// Package audit implements async event dispatching for sign-in, renewal and
// account lifecycle operations.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event] is the structured audit record.
//   - [Fingerprint] derives the correlation key of a request.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import accounts or any sibling internal package except internal/logging.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
