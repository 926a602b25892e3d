// Package audit implements fire-and-forget recording of login attempts and
// system events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op; the
//     Postgres sink lives in store/postgres).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full
//     semantics, or inline delivery when buffering is disabled.
//   - [Event]: one insert-only record with a writer-assigned timestamp.
//
// # Architecture boundaries
//
// This package owns stamping, buffering and sink delivery. It does NOT decide
// which events to emit; the Engine and flow functions do.
//
// # What this package must NOT do
//
//   - Propagate a sink error to the caller. Failures are logged and counted.
//   - Import goGuard or any sibling internal package.
package audit
