package goGuard

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/otp"
)

// RequestOTP emails a fresh passcode for purpose, replacing any outstanding
// one. Unknown accounts get the same nil answer and no mail.
//
// Every request is charged against the per-recipient and per-address send
// limits before the account is looked up, so a flood of requests for
// nonexistent addresses is refused like any other. Mail is handed to the
// delivery queue and both outcomes are padded to OTP.ResponseFloor, keeping
// response time independent of whether the account exists.
func (e *Engine) RequestOTP(ctx context.Context, email string, purpose OTPPurpose) error {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return err
	}
	if !otp.Purpose(purpose).Valid() {
		return ErrOTPPurposeInvalid
	}
	return flows.RunRequestOTP(ctx, email, string(purpose), e.flows.OTP)
}

// VerifyOTP checks a passcode without consuming it. Every failure charges the
// rate limiter for the caller's address and email.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string, purpose OTPPurpose) error {
	email = normalizeEmail(email)
	if err := e.validateEmail(email); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return newValidationError("code", "required")
	}
	if !otp.Purpose(purpose).Valid() {
		return ErrOTPPurposeInvalid
	}
	return flows.RunVerifyOTP(ctx, email, code, string(purpose), e.flows.OTP)
}

func (e *Engine) otpDeps() flows.OTPDeps {
	return flows.OTPDeps{
		ClientIPFromContext: clientIPFromContext,

		CheckLimiter:     e.checkLimiter,
		IncrementLimiter: e.incrementLimiter,
		ChargeSend:       e.chargeSend,

		GetChallenge: func(ctx context.Context, email string) (*flows.OTPRecord, error) {
			acct, err := e.accounts.GetAccountByEmail(ctx, email)
			if err != nil {
				return nil, err
			}
			return toOTPRecord(acct.OTP), nil
		},
		SaveChallenge: func(ctx context.Context, email string, record flows.OTPRecord) error {
			return e.accounts.SaveOTPChallenge(ctx, email, OTPChallenge{
				Hash:      record.Hash,
				ExpiresAt: record.ExpiresAt,
				Purpose:   OTPPurpose(record.Purpose),
			})
		},
		IsNotFound: isAccountNotFound,

		Issue: func(purpose string) (string, flows.OTPRecord, error) {
			code, c, err := e.otp.Issue(otp.Purpose(purpose))
			if err != nil {
				return "", flows.OTPRecord{}, err
			}
			return code, flows.OTPRecord{Hash: c.Hash, ExpiresAt: c.ExpiresAt, Purpose: string(c.Purpose)}, nil
		},
		Verify: e.verifyOTPChallenge,
		Send:   e.delivery.Send,

		Now:         time.Now,
		PadResponse: e.padOTPResponse,

		EmitSystemAudit: e.emitSystemAudit,
		EmitLoginAudit:  e.emitLoginAudit,
		MetricInc:       func(id int) { e.metricInc(MetricID(id)) },
		Warn:            e.warn,

		Metrics: flows.OTPMetrics{
			OTPIssued:          int(MetricOTPIssued),
			OTPVerifyFailure:   int(MetricOTPVerifyFailure),
			OTPSendLimited:     int(MetricOTPSendLimited),
			OTPDeliveryFailed:  int(MetricOTPDeliveryFailed),
			LoginRateLimited:   int(MetricLoginRateLimited),
			LimiterUnavailable: int(MetricLimiterUnavailable),
		},
		Errors: flows.OTPErrors{
			EngineNotReady: ErrEngineNotReady,
			OTPInvalid:     ErrOTPInvalid,
			Unavailable:    ErrUnavailable,
			Blocked:        e.blocked,
		},
	}
}

func (e *Engine) chargeSend(ctx context.Context, ip, email string) (flows.LimiterDecision, error) {
	err := e.sends.CheckRequest(ctx, email, ip)
	if err == nil {
		return flows.LimiterDecision{Allowed: true}, nil
	}
	var limited *limiters.SendLimitError
	if errors.As(err, &limited) {
		return flows.LimiterDecision{RetryAfter: limited.RetryAfter}, nil
	}
	return flows.LimiterDecision{}, err
}

// padOTPResponse sleeps until OTP.ResponseFloor has passed, plus up to a
// quarter of the floor in random jitter.
func (e *Engine) padOTPResponse(ctx context.Context, elapsed time.Duration) error {
	floor := e.config.OTP.ResponseFloor
	if floor <= 0 {
		return nil
	}

	delay := floor - elapsed
	if delay < 0 {
		delay = 0
	}
	if span := int64(floor / 4); span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(span))
		if err != nil {
			return err
		}
		delay += time.Duration(n.Int64())
	}
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
