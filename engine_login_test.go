package goGuard

import (
	"errors"
	"testing"
	"time"
)

func TestLoginBlocksAfterFiveFailuresAndResetsOnSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong password"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	blocked := requireBlocked(t, err, ReasonRateLimited)
	if secs := blocked.RetryAfterSeconds(); secs < 55 || secs > 60 {
		t.Fatalf("expected ~60s retry-after, got %ds", secs)
	}

	env.advance(61 * time.Second)
	env.loginWithOTP(t, ctx, testEmail, testPassword, false)

	failures, err := env.engine.rateLimiter.Failures(ctx, testIP, testEmail)
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if failures != 0 {
		t.Fatalf("expected counter reset to zero, got %d", failures)
	}

	_, err = env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected plain failure after reset, got %v", err)
	}
	status, err := env.engine.CheckRateLimit(ctx, testEmail)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if status.Blocked {
		t.Fatalf("single failure after reset must not block: %+v", status)
	}
}

func TestLoginRetryAfterEscalatesAcrossTiers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	fail := func() {
		t.Helper()
		if _, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong password"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		fail()
	}
	want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}
	for i, block := range want {
		_, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
		b := requireBlocked(t, err, ReasonRateLimited)
		if b.RetryAfter > block || b.RetryAfter < block-5*time.Second {
			t.Fatalf("tier %d: expected retry-after near %s, got %s", i+1, block, b.RetryAfter)
		}
		env.advance(block + time.Second)
		if i < len(want)-1 {
			fail()
		}
	}
}

func TestLoginUnknownAccountLooksLikeWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	_, unknownErr := env.engine.Login(ctx, LoginRequest{Email: "ghost@x.com", Password: "whatever password"})
	_, wrongErr := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "whatever password"})
	if unknownErr != ErrInvalidCredentials || wrongErr != ErrInvalidCredentials {
		t.Fatalf("expected identical errors, got %v and %v", unknownErr, wrongErr)
	}

	failures, err := env.engine.rateLimiter.Failures(ctx, testIP, "ghost@x.com")
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if failures != 1 {
		t.Fatalf("unknown account attempts must be charged, got %d", failures)
	}
	if env.sender.count() != 0 {
		t.Fatal("failed logins must not send passcodes")
	}
}

func TestLoginInactiveAccountIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.accounts.update(testEmail, func(a *Account) { a.Active = false }); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	_, err := env.engine.Login(ipContext(testIP), LoginRequest{Email: testEmail, Password: testPassword})
	if err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	cases := []LoginRequest{
		{Email: "", Password: testPassword},
		{Email: "no-at-sign", Password: testPassword},
		{Email: testEmail, Password: ""},
	}
	for _, req := range cases {
		_, err := env.engine.Login(ctx, req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestLoginEmailIsNormalized(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.loginWithOTP(t, ipContext(testIP), "  A@X.com ", testPassword, false)
	if res.Email != testEmail {
		t.Fatalf("expected normalized email, got %q", res.Email)
	}
}

func TestLockoutSpansAddressesAndAdminUnlocks(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Lockout.Threshold = 6 })

	for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		for i := 0; i < 3; i++ {
			_, err := env.engine.Login(ipContext(ip), LoginRequest{Email: testEmail, Password: "wrong password"})
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
		}
	}

	acct, _ := env.accounts.get(testEmail)
	if !acct.LockedAt(env.now) {
		t.Fatal("expected account to be locked")
	}

	fresh := ipContext("198.51.100.3")
	_, err := env.engine.Login(fresh, LoginRequest{Email: testEmail, Password: testPassword})
	blocked := requireBlocked(t, err, ReasonAccountLocked)
	if blocked.RetryAfter != 30*time.Minute {
		t.Fatalf("expected 30m lock, got %s", blocked.RetryAfter)
	}

	status, err := env.engine.CheckRateLimit(fresh, testEmail)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if !status.Blocked || status.Reason != ReasonAccountLocked || status.SecondsRemaining != 1800 {
		t.Fatalf("unexpected status %+v", status)
	}

	user := &SessionClaims{Email: "u@x.com", Role: "user"}
	if err := env.engine.UnlockAccount(fresh, user, testEmail); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.engine.UnlockAccount(fresh, nil, testEmail); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized for nil actor, got %v", err)
	}

	admin := &SessionClaims{Email: "root@x.com", Role: "admin"}
	if err := env.engine.UnlockAccount(fresh, admin, "ghost@x.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if err := env.engine.UnlockAccount(fresh, admin, testEmail); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	env.loginWithOTP(t, fresh, testEmail, testPassword, false)

	found := false
	for _, a := range env.audit.actions() {
		if a == "account_unlocked" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected account_unlocked audit entry")
	}
}

func TestLockoutLapsesWithTime(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.accounts.SetLockout(ipContext(testIP), testEmail, env.now.Add(time.Minute)); err != nil {
		t.Fatalf("SetLockout failed: %v", err)
	}
	_, err := env.engine.Login(ipContext(testIP), LoginRequest{Email: testEmail, Password: testPassword})
	requireBlocked(t, err, ReasonAccountLocked)

	env.advance(time.Minute)
	env.loginWithOTP(t, ipContext(testIP), testEmail, testPassword, false)

	acct, _ := env.accounts.get(testEmail)
	if !acct.LockoutUntil.IsZero() {
		t.Fatal("successful login must clear the persisted lock")
	}
}

func TestCompleteLoginRejectsWrongCodeThenAccepts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := env.sender.last(t).code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err = env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: wrong, Method: MethodOTP})
	if err != ErrInvalidSecondFactor {
		t.Fatalf("expected invalid second factor, got %v", err)
	}
	_, err = env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: code, Method: MethodTOTP})
	if err != ErrMethodNotAllowed {
		t.Fatalf("expected method not allowed, got %v", err)
	}

	done, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: code, Method: MethodOTP})
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	claims, err := env.engine.ValidateAccessToken(done.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.Email != testEmail || claims.Role != "user" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	_, err = env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: code, Method: MethodOTP})
	if err != ErrChallengeInvalid {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	acct, _ := env.accounts.get(testEmail)
	if acct.OTP != nil {
		t.Fatal("passcode must be cleared after login")
	}
}

func TestCompleteLoginExhaustsChallenge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SecondFactor.MaxAttempts = 2 })
	ctx := ipContext(testIP)

	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := env.sender.last(t).code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	if _, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: wrong, Method: MethodOTP}); err != ErrInvalidSecondFactor {
		t.Fatalf("expected invalid second factor, got %v", err)
	}
	if _, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: wrong, Method: MethodOTP}); err != ErrChallengeInvalid {
		t.Fatalf("expected exhausted challenge, got %v", err)
	}
	if _, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: code, Method: MethodOTP}); err != ErrChallengeInvalid {
		t.Fatalf("exhausted challenge must stay dead, got %v", err)
	}
}

func TestCompleteLoginChallengeExpiresOnEngineClock(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := env.sender.last(t).code

	// Only the engine clock moves; the Redis key is still live.
	env.now = env.now.Add(env.engine.config.SecondFactor.ChallengeTTL + time.Second)

	_, err = env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: res.ChallengeID, Code: code, Method: MethodOTP})
	if err != ErrChallengeInvalid {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestCompleteLoginUnknownChallengeChargesAddress(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	for _, id := range []string{"not-a-challenge", "AAAAAAAAAAAAAAAAAAAAAA"} {
		_, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{ChallengeID: id, Code: "123456", Method: MethodOTP})
		if err != ErrChallengeInvalid {
			t.Fatalf("%s: expected challenge invalid, got %v", id, err)
		}
	}
	failures, err := env.engine.rateLimiter.Failures(ctx, testIP, "")
	if err != nil {
		t.Fatalf("Failures failed: %v", err)
	}
	if failures != 2 {
		t.Fatalf("expected 2 address charges, got %d", failures)
	}
}

func TestTrustedDeviceSkipsSecondFactorUntilRevoked(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAccount(t, "b@x.com", testPassword, "user")
	ctx := ipContext(testIP)

	done := env.loginWithOTP(t, ctx, testEmail, testPassword, true)
	if done.DeviceToken == "" {
		t.Fatal("expected device token")
	}

	res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword, DeviceToken: done.DeviceToken})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginAuthenticated {
		t.Fatalf("expected trusted device to skip second factor, got %+v", res)
	}

	res, err = env.engine.Login(ctx, LoginRequest{Email: "b@x.com", Password: testPassword, DeviceToken: done.DeviceToken})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginSecondFactorRequired {
		t.Fatal("device token of another account must not be honored")
	}

	claims, err := env.engine.deviceTokens.Verify(done.DeviceToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if err := env.engine.RevokeTrustedDevice(ctx, "b@x.com", claims.TokenID); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized revoke, got %v", err)
	}
	if err := env.engine.RevokeTrustedDevice(ctx, testEmail, claims.TokenID); err != nil {
		t.Fatalf("RevokeTrustedDevice failed: %v", err)
	}
	if err := env.engine.RevokeTrustedDevice(ctx, testEmail, claims.TokenID); err != nil {
		t.Fatalf("second revoke must be a no-op, got %v", err)
	}

	res, err = env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword, DeviceToken: done.DeviceToken})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginSecondFactorRequired {
		t.Fatal("revoked device token must not skip the second factor")
	}
}

func TestRevokeAllTrustedDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	first := env.loginWithOTP(t, ctx, testEmail, testPassword, true)
	second := env.loginWithOTP(t, ctx, testEmail, testPassword, true)

	n, err := env.engine.RevokeAllTrustedDevices(ctx, testEmail)
	if err != nil {
		t.Fatalf("RevokeAllTrustedDevices failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	for _, token := range []string{first.DeviceToken, second.DeviceToken} {
		res, err := env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword, DeviceToken: token})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if res.Status != LoginSecondFactorRequired {
			t.Fatal("revoked device token must not skip the second factor")
		}
	}
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.ValidateAccessToken(""); err != ErrUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.engine.ValidateAccessToken("a.b.c"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected token invalid, got %v", err)
	}
}

func TestLoginMetricsAndAudit(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := ipContext(testIP)

	_, _ = env.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong password"})
	env.loginWithOTP(t, ctx, testEmail, testPassword, false)

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginFailure] != 1 || snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	if snap.Counters[MetricSecondFactorRequired] != 1 || snap.Counters[MetricOTPIssued] != 1 {
		t.Fatalf("unexpected second factor counters %+v", snap.Counters)
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	var statuses []string
	for _, e := range env.audit.entries {
		if e.Kind == AuditKindLogin {
			if e.IP != testIP {
				t.Fatalf("audit entry lost the client address: %+v", e)
			}
			if e.ID == "" || e.Timestamp.IsZero() {
				t.Fatalf("audit entry missing id or timestamp: %+v", e)
			}
			statuses = append(statuses, e.Status)
		}
	}
	if len(statuses) != 3 || statuses[0] != "failure" || statuses[1] != "second_factor_required" || statuses[2] != "success" {
		t.Fatalf("unexpected login audit trail %v", statuses)
	}
}
