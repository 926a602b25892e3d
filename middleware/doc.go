// Package middleware exposes HTTP middleware that verifies goGuard access
// tokens and carries the caller's address into the engine.
//
// # Guards
//
//   - [Guard] and [ClientIP]: net/http adapters.
//   - [RequireSession], [RequireRole] and [GinClientIP]: gin adapters.
//
// Each guard reads the Authorization header, calls
// Engine.ValidateAccessToken and stores the verified claims in the request
// context.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the engine).
//   - Touch Redis or the account store.
//   - Decide more than "one privileged role or not".
package middleware
