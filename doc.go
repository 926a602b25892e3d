// Package goGuard decides whether a login or verification attempt may proceed,
// at what cost, and under which second-factor requirements.
//
// It composes progressive dual-keyed rate limiting, per-account lockout,
// emailed one-time passcodes, TOTP with single-use backup codes, trusted-device
// bypass, breach-aware password policy and fire-and-forget audit logging.
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Engine], [Builder], [Config], the
// [AccountStore] and [OTPSender] collaborator interfaces, and value types. Flow
// orchestration, counters, challenge stores and audit dispatch live under
// internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Distinguish "wrong password" from "unknown account" in any returned error.
//   - Fail a primary operation because an audit write failed.
//   - Log passwords, codes, secrets or tokens.
package goGuard
