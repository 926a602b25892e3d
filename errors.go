package goGuard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is the single answer for a wrong password, an
	// unknown account and an inactive account.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSecondFactor is returned for a wrong OTP, TOTP or backup code.
	ErrInvalidSecondFactor = errors.New("invalid second factor")
	// ErrChallengeInvalid is returned when a login challenge is unknown, expired or exhausted.
	ErrChallengeInvalid = errors.New("login challenge invalid")
	// ErrMethodNotAllowed is returned when a second-factor method does not fit the challenge.
	ErrMethodNotAllowed = errors.New("second factor method not allowed")
	// ErrBlocked matches every *BlockedError.
	ErrBlocked = errors.New("attempt blocked")
	// ErrUnavailable wraps infrastructure failures (store, cache, mail).
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrAccountNotFound must be returned by AccountStore implementations for a
	// missing account. The engine never surfaces it to callers of Login.
	ErrAccountNotFound = errors.New("account not found")

	ErrOTPInvalid        = errors.New("otp invalid")
	ErrOTPPurposeInvalid = errors.New("otp purpose invalid")

	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")
	ErrTOTPNotPending     = errors.New("totp setup not started")
	ErrTOTPNotEnabled     = errors.New("totp not enabled")
	ErrTOTPInvalidCode    = errors.New("totp code invalid")

	ErrPasswordPolicy   = errors.New("password policy violation")
	ErrPasswordBreached = errors.New("password found in breach corpus")
	ErrPasswordReuse    = errors.New("new password must differ from current password")

	ErrUnauthorized        = errors.New("unauthorized")
	ErrTokenInvalid        = errors.New("access token invalid")
	ErrDeviceTokenDisabled = errors.New("trusted devices disabled")
)

// Block reasons reported by BlockedError and RateLimitStatus.
const (
	ReasonRateLimited   = "rate_limited"
	ReasonAccountLocked = "account_locked"
	ReasonUnavailable   = "unavailable"
)

// BlockedError is a policy rejection that carries enough detail to render a
// countdown, never enough to reveal credential correctness.
type BlockedError struct {
	RetryAfter time.Duration
	Reason     string
}

// Error includes the reason and the rounded wait.
func (e *BlockedError) Error() string {
	return fmt.Sprintf("attempt blocked (%s), retry after %s", e.Reason, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrBlocked) match.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// RetryAfterSeconds rounds up so a client never retries early.
func (e *BlockedError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// ValidationError rejects malformed input before any security-sensitive logic runs.
type ValidationError struct {
	Field   string
	Message string
}

// Error names the offending field.
func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
