package goGuard

import (
	"context"
	"time"
)

// CheckRateLimit answers whether email may attempt to authenticate from the
// caller's address now. It never mutates counters. Reason distinguishes a
// temporary rate limit from a persisted account lockout.
func (e *Engine) CheckRateLimit(ctx context.Context, email string) (RateLimitStatus, error) {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return RateLimitStatus{}, err
	}
	ip := clientIPFromContext(ctx)

	var status RateLimitStatus
	decision, err := e.rateLimiter.Check(ctx, ip, email)
	if err != nil {
		e.metricInc(MetricLimiterUnavailable)
		e.warn("goGuard: rate limiter check failed", "error", err)
	}
	if !decision.Allowed {
		status = blockedStatus(decision.RetryAfter, ReasonRateLimited)
		if err != nil {
			status.Reason = ReasonUnavailable
		}
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		now := e.clock()
		if acct.LockedAt(now) {
			if remaining := acct.LockoutUntil.Sub(now); remaining > time.Duration(status.SecondsRemaining)*time.Second {
				status = blockedStatus(remaining, ReasonAccountLocked)
			}
		}
	case isAccountNotFound(err):
	default:
		e.warn("goGuard: account lookup failed", "error", err)
	}
	return status, nil
}

func blockedStatus(retryAfter time.Duration, reason string) RateLimitStatus {
	blocked := &BlockedError{RetryAfter: retryAfter, Reason: reason}
	return RateLimitStatus{
		Blocked:          true,
		SecondsRemaining: blocked.RetryAfterSeconds(),
		Reason:           reason,
	}
}

// UnlockAccount lifts a persisted lockout and clears the identifier-wide
// failure counter for email. Address-keyed rate limits expire on their own.
// actor must hold the configured admin role.
func (e *Engine) UnlockAccount(ctx context.Context, actor *SessionClaims, email string) error {
	if actor == nil || actor.Role != e.config.Security.AdminRole {
		return ErrUnauthorized
	}
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return err
	}
	if _, err := e.accounts.GetAccountByEmail(ctx, email); err != nil {
		if isAccountNotFound(err) {
			return ErrAccountNotFound
		}
		return wrapUnavailable(err)
	}
	if err := e.resetLockout(ctx, email); err != nil {
		return wrapUnavailable(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.audit.Emit(ctx, AuditEntry{
		Kind:     AuditKindSystem,
		Action:   "account_unlocked",
		Email:    actor.Email,
		IP:       clientIPFromContext(ctx),
		TargetID: email,
	})
	return nil
}
