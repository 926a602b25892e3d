package goGuard

import (
	"errors"
	"testing"
	"time"
)

func TestRequestOTPUnknownAccountIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.RequestOTP(ipContext(testIP), "ghost@x.com", OTPPurposeLogin); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if env.sender.count() != 0 {
		t.Fatal("unknown account must not receive mail")
	}
}

func TestRequestOTPRejectsUnknownPurpose(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.RequestOTP(ipContext(testIP), testEmail, OTPPurpose("signup")); err != ErrOTPPurposeInvalid {
		t.Fatalf("expected purpose error, got %v", err)
	}
}

func TestVerifyOTPLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	if err := env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	sent := env.sender.last(t)
	if sent.purpose != string(OTPPurposeLogin) || len(sent.code) != 6 {
		t.Fatalf("unexpected dispatch %+v", sent)
	}

	if err := env.engine.VerifyOTP(ctx, testEmail, sent.code, OTPPurposePasswordReset); err != ErrOTPInvalid {
		t.Fatalf("purpose mismatch must fail, got %v", err)
	}
	if err := env.engine.VerifyOTP(ctx, testEmail, sent.code, OTPPurposeLogin); err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	// Verification alone does not consume the passcode.
	if err := env.engine.VerifyOTP(ctx, testEmail, sent.code, OTPPurposeLogin); err != nil {
		t.Fatalf("second VerifyOTP failed: %v", err)
	}

	env.advance(10 * time.Minute)
	if err := env.engine.VerifyOTP(ctx, testEmail, sent.code, OTPPurposeLogin); err != ErrOTPInvalid {
		t.Fatalf("expired passcode must fail, got %v", err)
	}
}

func TestNewerOTPReplacesOlder(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	if err := env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	first := env.sender.last(t).code
	if err := env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin); err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	second := env.sender.last(t).code
	if first == second {
		t.Skip("random passcodes collided")
	}

	if err := env.engine.VerifyOTP(ctx, testEmail, first, OTPPurposeLogin); err != ErrOTPInvalid {
		t.Fatalf("superseded passcode must fail, got %v", err)
	}
	if err := env.engine.VerifyOTP(ctx, testEmail, second, OTPPurposeLogin); err != nil {
		t.Fatalf("latest passcode must verify, got %v", err)
	}
}

func TestVerifyOTPFailuresAreRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	for i := 0; i < 5; i++ {
		if err := env.engine.VerifyOTP(ctx, testEmail, "000000", OTPPurposeLogin); err != ErrOTPInvalid {
			t.Fatalf("expected otp invalid, got %v", err)
		}
	}
	err := env.engine.VerifyOTP(ctx, testEmail, "000000", OTPPurposeLogin)
	requireBlocked(t, err, ReasonRateLimited)

	err = env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("requests from a blocked pair must be refused, got %v", err)
	}
}

func TestRequestOTPLatencyIndependentOfAccount(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Delivery.Async = true
		cfg.OTP.ResponseFloor = 60 * time.Millisecond
	})
	env.sender.delay = 300 * time.Millisecond
	ctx := ipContext(testIP)

	measure := func(email string) time.Duration {
		var total time.Duration
		for i := 0; i < 3; i++ {
			start := time.Now()
			if err := env.engine.RequestOTP(ctx, email, OTPPurposeLogin); err != nil {
				t.Fatalf("RequestOTP(%s) failed: %v", email, err)
			}
			elapsed := time.Since(start)
			if elapsed >= env.sender.delay {
				t.Fatalf("RequestOTP(%s) waited on the mail relay: %v", email, elapsed)
			}
			if elapsed < 60*time.Millisecond {
				t.Fatalf("RequestOTP(%s) returned before the floor: %v", email, elapsed)
			}
			total += elapsed
		}
		return total / 3
	}

	known := measure(testEmail)
	unknown := measure("ghost@x.com")
	diff := known - unknown
	if diff < 0 {
		diff = -diff
	}
	if diff > 30*time.Millisecond {
		t.Fatalf("known %v vs unknown %v differ by %v", known, unknown, diff)
	}

	env.engine.Close()
	if env.sender.count() != 3 {
		t.Fatalf("queued mail must be delivered on close, got %d", env.sender.count())
	}
}

func TestRequestOTPSendLimitCoversUnknownAccounts(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.OTP.MaxSendsPerEmail = 2
		cfg.OTP.MaxSendsPerIP = 3
	})
	ctx := ipContext(testIP)

	for i := 0; i < 2; i++ {
		if err := env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin); err != nil {
			t.Fatalf("RequestOTP #%d failed: %v", i+1, err)
		}
	}
	blocked := requireBlocked(t, env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin), ReasonRateLimited)
	if blocked.RetryAfter <= 0 || blocked.RetryAfter > time.Hour {
		t.Fatalf("unexpected retry-after %v", blocked.RetryAfter)
	}

	if err := env.engine.RequestOTP(ctx, "ghost1@x.com", OTPPurposeLogin); err != nil {
		t.Fatalf("third request from the address must pass, got %v", err)
	}
	requireBlocked(t, env.engine.RequestOTP(ctx, "ghost2@x.com", OTPPurposeLogin), ReasonRateLimited)

	if env.sender.count() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", env.sender.count())
	}
	if n := env.engine.MetricsSnapshot().Counters[MetricOTPSendLimited]; n != 2 {
		t.Fatalf("expected 2 send-limited requests, got %d", n)
	}

	env.advance(time.Hour + time.Second)
	if err := env.engine.RequestOTP(ctx, testEmail, OTPPurposeLogin); err != nil {
		t.Fatalf("window should have reset, got %v", err)
	}
}
