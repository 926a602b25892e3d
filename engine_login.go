package goGuard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/devicetoken"
	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/otp"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/internal/totp"
)

const maxEmailLength = 254

// Login runs the password step. It returns LoginAuthenticated when a trusted
// device token lets the second factor be skipped, otherwise
// LoginSecondFactorRequired with a challenge to pass to CompleteLogin.
//
// Wrong passwords, unknown accounts and inactive accounts all return
// ErrInvalidCredentials. Rate limits and lockouts return *BlockedError.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if err := e.validateEmail(email); err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, newValidationError("password", "required")
	}
	if len(req.Password) > e.config.Password.MaxLength {
		return nil, newValidationError("password", "too long")
	}

	out, err := flows.RunLogin(ctx, email, req.Password, strings.TrimSpace(req.DeviceToken), e.flows.Login)
	if err != nil {
		return nil, err
	}
	return toLoginResult(out), nil
}

// CompleteLogin verifies the second factor for a challenge opened by Login.
func (e *Engine) CompleteLogin(ctx context.Context, req SecondFactorRequest) (*LoginResult, error) {
	if strings.TrimSpace(req.ChallengeID) == "" {
		return nil, newValidationError("challenge_id", "required")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, newValidationError("code", "required")
	}
	switch req.Method {
	case MethodOTP, MethodTOTP, MethodBackupCode:
	default:
		return nil, newValidationError("method", "must be otp, totp or backup_code")
	}
	if _, err := internal.ParseChallengeID(req.ChallengeID); err != nil {
		// Malformed IDs are treated like unknown ones, including the limiter charge.
		req.ChallengeID = "invalid"
	}

	out, err := flows.RunCompleteLogin(ctx, req.ChallengeID, code, string(req.Method), req.TrustDevice, e.flows.Login)
	if err != nil {
		return nil, err
	}
	return toLoginResult(out), nil
}

func (e *Engine) validateEmail(email string) error {
	if email == "" {
		return newValidationError("email", "required")
	}
	if len(email) > maxEmailLength {
		return newValidationError("email", "too long")
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return newValidationError("email", "malformed")
	}
	return nil
}

func toLoginResult(out *flows.LoginOutcome) *LoginResult {
	if out.Authenticated {
		return &LoginResult{
			Status:      LoginAuthenticated,
			Email:       out.Email,
			Role:        out.Role,
			AccessToken: out.AccessToken,
			ExpiresAt:   out.ExpiresAt,
			DeviceToken: out.DeviceToken,
		}
	}
	return &LoginResult{
		Status:      LoginSecondFactorRequired,
		Email:       out.Email,
		Method:      SecondFactorMethod(out.Method),
		ChallengeID: out.ChallengeID,
	}
}

func toLoginAccount(a *Account) flows.LoginAccount {
	out := flows.LoginAccount{
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		Role:         a.Role,
		Active:       a.Active,
		LockoutUntil: a.LockoutUntil,
	}
	if secret, ok := a.TOTP.EnabledSecret(); ok {
		out.TOTPEnabled = true
		out.TOTPSecret = secret
	}
	return out
}

func toOTPRecord(c *OTPChallenge) *flows.OTPRecord {
	if c == nil {
		return nil
	}
	return &flows.OTPRecord{Hash: c.Hash, ExpiresAt: c.ExpiresAt, Purpose: string(c.Purpose)}
}

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		Login: e.loginDeps(),
		OTP:   e.otpDeps(),
	}
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		TrustedDevicesEnabled: e.deviceTokens != nil,
		Now:                   e.clock,
		ClientIPFromContext:   clientIPFromContext,

		CheckLimiter:     e.checkLimiter,
		IncrementLimiter: e.incrementLimiter,
		ResetLimiter:     e.rateLimiter.Reset,

		RecordLockoutFailure: e.lockout.RecordFailure,
		ResetLockout:         e.resetLockout,
		SetLockout:           e.accounts.SetLockout,
		LockoutDuration:      e.lockout.LockDuration(),

		GetAccount: func(ctx context.Context, email string) (flows.LoginAccount, error) {
			acct, err := e.accounts.GetAccountByEmail(ctx, email)
			if err != nil {
				return flows.LoginAccount{}, err
			}
			return toLoginAccount(acct), nil
		},
		IsNotFound:          isAccountNotFound,
		VerifyPassword:      e.passwordHash.Verify,
		VerifyDummy:         e.passwordHash.VerifyDummy,
		UpgradePasswordHash: e.upgradePasswordHash,

		VerifyDeviceToken:  e.verifyDeviceToken,
		StartOTP:           e.startLoginOTP,
		VerifySecondFactor: e.verifySecondFactor,
		ClearOTP:           e.accounts.ClearOTPChallenge,

		CreateChallenge:        e.createLoginChallenge,
		GetChallenge:           e.getLoginChallenge,
		DeleteChallenge:        e.challenges.Delete,
		RecordChallengeFailure: e.recordChallengeFailure,
		MapChallengeError:      mapChallengeStoreError,

		IssueSession: func(_ context.Context, acct flows.LoginAccount) (string, time.Time, error) {
			return e.jwtManager.Issue(acct.Email, acct.Role)
		},
		IssueDeviceToken: e.issueDeviceToken,

		EmitLoginAudit: e.emitLoginAudit,
		MetricInc:      func(id int) { e.metricInc(MetricID(id)) },
		ObserveLatency: func(d time.Duration) { e.metrics.Observe(MetricLoginLatency, d) },
		Warn:           e.warn,

		Metrics: flows.LoginMetrics{
			LoginSuccess:          int(MetricLoginSuccess),
			LoginFailure:          int(MetricLoginFailure),
			LoginRateLimited:      int(MetricLoginRateLimited),
			LoginLockedOut:        int(MetricLoginLockedOut),
			AccountLocked:         int(MetricAccountLocked),
			SecondFactorRequired:  int(MetricSecondFactorRequired),
			SecondFactorSuccess:   int(MetricSecondFactorSuccess),
			SecondFactorFailure:   int(MetricSecondFactorFailure),
			TrustedDeviceAccepted: int(MetricTrustedDeviceAccepted),
			TrustedDeviceIssued:   int(MetricTrustedDeviceIssued),
			LimiterUnavailable:    int(MetricLimiterUnavailable),
		},
		Errors: flows.LoginErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidCredentials:  ErrInvalidCredentials,
			InvalidSecondFactor: ErrInvalidSecondFactor,
			ChallengeInvalid:    ErrChallengeInvalid,
			MethodNotAllowed:    ErrMethodNotAllowed,
			Unavailable:         ErrUnavailable,
			Blocked:             e.blocked,
		},
	}
}

func (e *Engine) upgradePasswordHash(ctx context.Context, acct flows.LoginAccount, pw string) {
	if !e.config.Password.UpgradeOnLogin || !e.passwordHash.NeedsRehash(acct.PasswordHash) {
		return
	}
	upgraded, err := e.passwordHash.Hash(pw)
	if err != nil {
		e.warn("goGuard: password hash upgrade generation failed", "error", err)
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.Email, upgraded); err != nil {
		e.warn("goGuard: password hash upgrade update failed", "error", err)
	}
}

// verifyDeviceToken requires a valid signature, an unexpired server record
// and a matching email. The token alone is not sufficient.
func (e *Engine) verifyDeviceToken(ctx context.Context, token, email string) bool {
	if e.deviceTokens == nil {
		return false
	}
	claims, err := e.deviceTokens.Verify(token)
	if err != nil || claims.Email != email {
		return false
	}
	owner, err := e.devices.Lookup(ctx, claims.TokenID)
	if err != nil {
		if !errors.Is(err, stores.ErrTrustedDeviceNotFound) {
			e.warn("goGuard: trusted device lookup failed", "error", err)
		}
		return false
	}
	return owner == email
}

func (e *Engine) issueDeviceToken(ctx context.Context, email string) (string, error) {
	if e.deviceTokens == nil {
		return "", ErrDeviceTokenDisabled
	}
	tokenID := devicetoken.NewTokenID()
	token, err := e.deviceTokens.Issue(email, tokenID)
	if err != nil {
		return "", err
	}
	if err := e.devices.Save(ctx, tokenID, email, e.deviceTokens.TTL()); err != nil {
		return "", err
	}
	return token, nil
}

func (e *Engine) startLoginOTP(ctx context.Context, email string) error {
	return flows.RunIssueOTP(ctx, email, string(OTPPurposeLogin), e.flows.OTP)
}

func (e *Engine) verifySecondFactor(ctx context.Context, acct flows.LoginAccount, method, code string) (bool, error) {
	switch method {
	case flows.MethodTOTP:
		if !acct.TOTPEnabled {
			return false, nil
		}
		return e.acceptTOTP(ctx, acct.Email, code, acct.TOTPSecret)
	case flows.MethodBackupCode:
		if !acct.TOTPEnabled {
			return false, nil
		}
		canonical := totp.CanonicalBackupCode(code)
		if canonical == "" {
			return false, nil
		}
		ok, err := e.accounts.ConsumeBackupCode(ctx, acct.Email, totp.HashBackupCode(acct.Email, canonical))
		if err != nil {
			return false, err
		}
		if ok {
			e.metricInc(MetricBackupCodeUsed)
		}
		return ok, nil
	case flows.MethodOTP:
		full, err := e.accounts.GetAccountByEmail(ctx, acct.Email)
		if err != nil {
			return false, err
		}
		if verr := e.verifyOTPChallenge(toOTPRecord(full.OTP), code, string(OTPPurposeLogin)); verr != nil {
			e.metricInc(MetricOTPVerifyFailure)
			return false, nil
		}
		return true, nil
	default:
		return false, nil
	}
}

func (e *Engine) verifyOTPChallenge(record *flows.OTPRecord, code, purpose string) error {
	if record == nil {
		return e.otp.Verify(nil, code, otp.Purpose(purpose))
	}
	return e.otp.Verify(&otp.Challenge{
		Hash:      record.Hash,
		ExpiresAt: record.ExpiresAt,
		Purpose:   otp.Purpose(record.Purpose),
	}, code, otp.Purpose(purpose))
}

func (e *Engine) createLoginChallenge(ctx context.Context, c flows.LoginChallenge) (string, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return "", err
	}
	ttl := e.config.SecondFactor.ChallengeTTL
	record := &stores.LoginChallenge{
		Email:     c.Email,
		IP:        c.IP,
		Method:    c.Method,
		ExpiresAt: e.clock().Add(ttl).Unix(),
	}
	if err := e.challenges.Save(ctx, id.String(), record, ttl); err != nil {
		return "", err
	}
	return id.String(), nil
}

func (e *Engine) getLoginChallenge(ctx context.Context, id string) (*flows.LoginChallenge, error) {
	record, err := e.challenges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &flows.LoginChallenge{Email: record.Email, IP: record.IP, Method: record.Method}, nil
}

func (e *Engine) recordChallengeFailure(ctx context.Context, id string) (bool, error) {
	return e.challenges.RecordFailure(ctx, id, e.config.SecondFactor.MaxAttempts)
}

func mapChallengeStoreError(err error) error {
	switch {
	case errors.Is(err, stores.ErrLoginChallengeNotFound),
		errors.Is(err, stores.ErrLoginChallengeExpired),
		errors.Is(err, stores.ErrLoginChallengeExceeded):
		return ErrChallengeInvalid
	default:
		return ErrUnavailable
	}
}
