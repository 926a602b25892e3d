// Package rate implements the progressive, dual-keyed failure limiter that gates
// login and verification attempts.
//
// # Window semantics
//
// Each failure INCRs a counter whose TTL slides forward by Window. When the counter
// reaches a tier threshold, a separate block key is armed with that tier's duration;
// Check only reads block-key TTLs. Key prefixes (default "grl"):
//   - grl:ip:<ip>:{n,b}: IP-only counter and block
//   - grl:id:"<ip>|<id>":{n,b}: IP+identifier counter and block
//
// Counting happens inside one Lua script per key, so concurrent stateless
// instances share one atomic view.
//
// # What this package must NOT do
//
//   - Decide account lockout (internal/limiters owns that).
//   - Swallow store errors: they are returned, alongside a Decision that already
//     reflects the configured fail-open/fail-closed direction.
package rate
