// Package limiters provides per-account counters that complement the
// address-keyed limiter in internal/rate.
//
// # Limiters
//
//   - [LockoutLimiter]: identifier-only failure counter that escalates to an
//     account lock when the configured threshold is reached.
//   - [SendLimiter]: fixed-window dispatch counter keyed by recipient and by
//     client address, charged on every passcode request.
//
// Counters are advanced by one Lua script per key, so the increment and the
// window expiry land together.
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
//
// # What this package must NOT do
//
//   - Persist the lock itself. The account store owns LockoutUntil.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
