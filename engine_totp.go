package goGuard

import (
	"context"
	"strings"

	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/totp"
)

// BeginTOTPSetup generates a pending secret for an authenticated account and
// returns it with its otpauth URI and QR image.
//
// Setup is not independent of the previous state: an account whose TOTP is
// already enabled gets ErrTOTPAlreadyEnabled and its secret is left untouched.
// Call DisableTOTP first to enroll a different authenticator. Repeating setup
// while a secret is only pending replaces the pending secret.
func (e *Engine) BeginTOTPSetup(ctx context.Context, email string) (*TOTPSetup, error) {
	email = normalizeEmail(email)
	acct, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isAccountNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, wrapUnavailable(err)
	}
	if acct.TOTP.Status() == TOTPEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	prov, err := e.totp.Generate(email)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SetTOTPPending(ctx, email, prov.Secret); err != nil {
		return nil, wrapUnavailable(err)
	}

	e.emitSystemAudit(ctx, "totp_setup_started", email, clientIPFromContext(ctx), "")
	return &TOTPSetup{Secret: prov.Secret, URI: prov.URI, QRCode: prov.QRCode}, nil
}

// ConfirmTOTPSetup verifies code against the pending secret and, on success,
// enables it and returns freshly generated backup codes. On failure the
// pending secret stays in place for a retry.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, email, code string) ([]string, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newValidationError("code", "required")
	}
	ip := clientIPFromContext(ctx)

	if err := e.gateTOTP(ctx, ip, email); err != nil {
		return nil, err
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isAccountNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, wrapUnavailable(err)
	}
	secret, ok := acct.TOTP.PendingSecret()
	if !ok {
		return nil, ErrTOTPNotPending
	}
	counter, ok := e.totp.Verify(code, secret)
	if !ok {
		e.chargeTOTPFailure(ctx, ip, email, "totp_setup_mismatch")
		return nil, ErrTOTPInvalidCode
	}

	codes, hashes, err := totp.GenerateBackupCodes(email, e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.EnableTOTP(ctx, email, secret, hashes); err != nil {
		return nil, wrapUnavailable(err)
	}
	// The confirming code must not also complete a login.
	if _, err := e.accounts.RecordTOTPCounter(ctx, email, counter); err != nil {
		e.warn("goGuard: totp counter update failed", "error", err)
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitSystemAudit(ctx, "totp_enabled", email, ip, "")
	return codes, nil
}

// DisableTOTP clears the secret and all backup codes. It is idempotent.
func (e *Engine) DisableTOTP(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := e.accounts.DisableTOTP(ctx, email); err != nil {
		if isAccountNotFound(err) {
			return ErrUnauthorized
		}
		return wrapUnavailable(err)
	}
	e.metricInc(MetricTOTPDisabled)
	e.emitSystemAudit(ctx, "totp_disabled", email, clientIPFromContext(ctx), "")
	return nil
}

// RegenerateBackupCodes replaces every backup code of an account whose TOTP is
// enabled and returns the new plaintext codes. The caller must present a
// current authenticator code, which is consumed like a login code.
//
// Failures charge the rate limiter for the caller's address and email. An
// account without enabled TOTP gets ErrTOTPNotEnabled.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, email, code string) ([]string, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newValidationError("code", "required")
	}
	ip := clientIPFromContext(ctx)

	if err := e.gateTOTP(ctx, ip, email); err != nil {
		return nil, err
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if isAccountNotFound(err) {
			return nil, ErrUnauthorized
		}
		return nil, wrapUnavailable(err)
	}
	secret, ok := acct.TOTP.EnabledSecret()
	if !ok {
		return nil, ErrTOTPNotEnabled
	}
	ok, err = e.acceptTOTP(ctx, email, code, secret)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	if !ok {
		e.chargeTOTPFailure(ctx, ip, email, "backup_regenerate_mismatch")
		return nil, ErrTOTPInvalidCode
	}

	codes, hashes, err := totp.GenerateBackupCodes(email, e.config.TOTP.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, email, hashes); err != nil {
		if isAccountNotFound(err) {
			return nil, ErrTOTPNotEnabled
		}
		return nil, wrapUnavailable(err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitSystemAudit(ctx, "backup_codes_regenerated", email, ip, "")
	return codes, nil
}

// acceptTOTP verifies code against secret and consumes its time step. A code
// whose step is not newer than the last accepted one is refused.
func (e *Engine) acceptTOTP(ctx context.Context, email, code, secret string) (bool, error) {
	counter, ok := e.totp.Verify(code, secret)
	if !ok {
		return false, nil
	}
	advanced, err := e.accounts.RecordTOTPCounter(ctx, email, counter)
	if err != nil {
		return false, err
	}
	if !advanced {
		e.metricInc(MetricTOTPReplayRejected)
		return false, nil
	}
	return true, nil
}

func (e *Engine) gateTOTP(ctx context.Context, ip, email string) error {
	decision, err := e.checkLimiter(ctx, ip, email)
	reason := ReasonRateLimited
	if err != nil {
		e.metricInc(MetricLimiterUnavailable)
		e.warn("goGuard: rate limiter check failed", "error", err)
		reason = ReasonUnavailable
	}
	if decision.Allowed {
		return nil
	}
	e.metricInc(MetricLoginRateLimited)
	return e.blocked(decision.RetryAfter, reason)
}

func (e *Engine) chargeTOTPFailure(ctx context.Context, ip, email, reason string) {
	if _, err := e.incrementLimiter(ctx, ip, email); err != nil {
		e.metricInc(MetricLimiterUnavailable)
		e.warn("goGuard: rate limiter increment failed", "error", err)
	}
	e.emitLoginAudit(ctx, email, ip, flows.StatusFailure, reason)
}
