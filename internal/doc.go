// Package internal contains helpers that are private to goGuard, currently
// the random login challenge identifier.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: login and passcode orchestrators driven by dependency structs
//   - limiters: identifier-wide lockout escalation
//   - otp: emailed passcode generation and verification
//   - rate: tiered dual-key Redis rate limiter
//   - security: configuration posture report
//   - stores: Redis records for login challenges and trusted devices
//   - totp: authenticator secrets, provisioning and backup codes
package internal
