package goGuard

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goGuard/internal/flows"
)

// ValidateNewPassword applies the local policy and then the breach corpus
// check. The breach check fails open.
func (e *Engine) ValidateNewPassword(ctx context.Context, pw string) error {
	if err := e.policy.Check(pw); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if e.breach != nil && e.breach.IsBreached(ctx, pw) {
		e.metricInc(MetricPasswordBreachRejected)
		return ErrPasswordBreached
	}
	return nil
}

// HashPassword validates pw and returns its digest, for account provisioning.
func (e *Engine) HashPassword(ctx context.Context, pw string) (string, error) {
	if err := e.ValidateNewPassword(ctx, pw); err != nil {
		return "", err
	}
	return e.passwordHash.Hash(pw)
}

// ChangePassword replaces the password of an authenticated account after
// re-checking the current one. All trusted devices are revoked.
func (e *Engine) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return err
	}
	if oldPassword == "" {
		return newValidationError("old_password", "required")
	}
	ip := clientIPFromContext(ctx)

	decision, err := e.checkLimiter(ctx, ip, email)
	if err != nil {
		e.metricInc(MetricLimiterUnavailable)
		e.warn("goGuard: rate limiter check failed", "error", err)
	}
	if !decision.Allowed {
		reason := ReasonRateLimited
		if err != nil {
			reason = ReasonUnavailable
		}
		e.metricInc(MetricLoginRateLimited)
		return e.blocked(decision.RetryAfter, reason)
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isAccountNotFound(err) {
			return ErrInvalidCredentials
		}
		return wrapUnavailable(err)
	}
	if !e.passwordHash.Verify(oldPassword, acct.PasswordHash) {
		if _, err := e.incrementLimiter(ctx, ip, email); err != nil {
			e.warn("goGuard: rate limiter increment failed", "error", err)
		}
		e.emitLoginAudit(ctx, email, ip, flows.StatusFailure, "password_change_mismatch")
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return ErrPasswordReuse
	}
	if err := e.ValidateNewPassword(ctx, newPassword); err != nil {
		return err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, email, hash); err != nil {
		return wrapUnavailable(err)
	}
	e.revokeDevicesAfterCredentialChange(ctx, email)

	e.metricInc(MetricPasswordChanged)
	e.emitSystemAudit(ctx, "password_changed", email, ip, "")
	return nil
}

// RequestPasswordReset emails a reset passcode. Unknown accounts get the same
// nil answer.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.RequestOTP(ctx, email, OTPPurposePasswordReset); err != nil {
		return err
	}
	e.metricInc(MetricPasswordResetRequest)
	return nil
}

// ConfirmPasswordReset consumes a reset passcode and sets a new password. It
// clears the passcode, lockout and limiter state and revokes trusted devices.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := e.VerifyOTP(ctx, email, code, OTPPurposePasswordReset); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if err := e.ValidateNewPassword(ctx, newPassword); err != nil {
		return err
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, email, hash); err != nil {
		return wrapUnavailable(err)
	}
	if err := e.accounts.ClearOTPChallenge(ctx, email); err != nil {
		e.warn("goGuard: reset passcode clear failed", "error", err)
	}

	ip := clientIPFromContext(ctx)
	e.resetFailureState(ctx, ip, email)
	e.revokeDevicesAfterCredentialChange(ctx, email)

	e.metricInc(MetricPasswordResetSuccess)
	e.emitSystemAudit(ctx, "password_reset", email, ip, "")
	return nil
}

func (e *Engine) revokeDevicesAfterCredentialChange(ctx context.Context, email string) {
	n, err := e.devices.RevokeAll(ctx, email)
	if err != nil {
		e.warn("goGuard: trusted device revocation failed", "error", err)
		return
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricTrustedDeviceRevoked)
	}
}

// IsPolicyError reports whether err is a password policy or breach rejection.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrPasswordPolicy) || errors.Is(err, ErrPasswordBreached) || errors.Is(err, ErrPasswordReuse)
}
