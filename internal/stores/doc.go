// Package stores provides Redis-backed, short-lived record stores for the
// login flow: pending second-factor challenges and trusted-device records.
//
// # Design
//
// Challenge records are versioned and binary-encoded with a TTL. RecordFailure
// uses a WATCH/MULTI optimistic transaction with automatic retry on contention.
// Trusted-device records map a token ID to its email and are indexed per email
// so a password change can revoke them all at once.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control only. It does not
// generate codes or tokens, enforce rate limits, or make authentication
// decisions; those belong to internal/flows and the root engine.
//
// # What this package must NOT do
//
//   - Import goGuard or any sibling internal package.
//   - Log or expose plaintext secrets.
package stores
