package flows

import (
	"context"
	"time"
)

// Second-factor method names shared with the root package.
const (
	MethodOTP        = "otp"
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// Login audit statuses.
const (
	StatusSuccess              = "success"
	StatusFailure              = "failure"
	StatusBlocked              = "blocked"
	StatusSecondFactorRequired = "second_factor_required"
)

// LoginAccount is the flow-local view of an account.
type LoginAccount struct {
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	TOTPEnabled  bool
	TOTPSecret   string
	LockoutUntil time.Time
}

// LimiterDecision mirrors the rate limiter answer.
type LimiterDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// LoginChallenge is the flow-local second-factor challenge record.
type LoginChallenge struct {
	Email  string
	IP     string
	Method string
}

// LoginOutcome is the flow-local login response shape.
type LoginOutcome struct {
	Authenticated bool
	Email         string
	Role          string
	AccessToken   string
	ExpiresAt     time.Time
	DeviceToken   string
	Method        string
	ChallengeID   string
}

// LoginMetrics carries metric IDs needed by login flows.
type LoginMetrics struct {
	LoginSuccess          int
	LoginFailure          int
	LoginRateLimited      int
	LoginLockedOut        int
	AccountLocked         int
	SecondFactorRequired  int
	SecondFactorSuccess   int
	SecondFactorFailure   int
	TrustedDeviceAccepted int
	TrustedDeviceIssued   int
	LimiterUnavailable    int
}

// LoginErrors carries host-level sentinel errors used by login flows.
type LoginErrors struct {
	EngineNotReady      error
	InvalidCredentials  error
	InvalidSecondFactor error
	ChallengeInvalid    error
	MethodNotAllowed    error
	Unavailable         error
	// Blocked builds the structured rejection for a limiter or lockout block.
	Blocked func(retryAfter time.Duration, reason string) error
}

// Block reasons.
const (
	ReasonRateLimited   = "rate_limited"
	ReasonAccountLocked = "account_locked"
	ReasonUnavailable   = "unavailable"
)

// LoginDeps captures login and second-factor dependencies.
type LoginDeps struct {
	TrustedDevicesEnabled bool

	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	CheckLimiter     func(ctx context.Context, ip, email string) (LimiterDecision, error)
	IncrementLimiter func(ctx context.Context, ip, email string) (LimiterDecision, error)
	ResetLimiter     func(ctx context.Context, ip, email string) error

	// RecordLockoutFailure reports whether the failure crossed the lockout threshold.
	RecordLockoutFailure func(ctx context.Context, email string) (bool, error)
	ResetLockout         func(ctx context.Context, email string) error
	SetLockout           func(ctx context.Context, email string, until time.Time) error
	LockoutDuration      time.Duration

	GetAccount     func(ctx context.Context, email string) (LoginAccount, error)
	IsNotFound     func(error) bool
	VerifyPassword func(password, hash string) bool
	// VerifyDummy burns the same hashing cost as VerifyPassword.
	VerifyDummy         func(password string)
	UpgradePasswordHash func(ctx context.Context, account LoginAccount, password string)

	// VerifyDeviceToken reports whether token is valid, unrevoked and bound to email.
	VerifyDeviceToken  func(ctx context.Context, token, email string) bool
	StartOTP           func(ctx context.Context, email string) error
	VerifySecondFactor func(ctx context.Context, account LoginAccount, method, code string) (bool, error)
	ClearOTP           func(ctx context.Context, email string) error

	CreateChallenge        func(ctx context.Context, challenge LoginChallenge) (string, error)
	GetChallenge           func(ctx context.Context, id string) (*LoginChallenge, error)
	DeleteChallenge        func(ctx context.Context, id string) (bool, error)
	RecordChallengeFailure func(ctx context.Context, id string) (bool, error)
	// MapChallengeError converts store errors into ChallengeInvalid or Unavailable.
	MapChallengeError func(error) error

	IssueSession     func(ctx context.Context, account LoginAccount) (string, time.Time, error)
	IssueDeviceToken func(ctx context.Context, email string) (string, error)

	EmitLoginAudit func(ctx context.Context, email, ip, status, reason string)
	MetricInc      func(int)
	ObserveLatency func(time.Duration)
	Warn           func(string, ...any)

	Metrics LoginMetrics
	Errors  LoginErrors
}

func (deps *LoginDeps) defaults() {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}
	if deps.EmitLoginAudit == nil {
		deps.EmitLoginAudit = func(context.Context, string, string, string, string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.VerifyDummy == nil {
		deps.VerifyDummy = func(string) {}
	}
	if deps.MapChallengeError == nil {
		deps.MapChallengeError = func(error) error { return deps.Errors.Unavailable }
	}
}

// checkLimiter gates an attempt. A store error has already been resolved
// into a decision by the limiter's fail-open/fail-closed policy.
func checkLimiter(ctx context.Context, ip, email string, deps LoginDeps) error {
	decision, err := deps.CheckLimiter(ctx, ip, email)
	reason := ReasonRateLimited
	if err != nil {
		deps.MetricInc(deps.Metrics.LimiterUnavailable)
		deps.Warn("goGuard: rate limiter check failed", "error", err)
		reason = ReasonUnavailable
	}
	if decision.Allowed {
		return nil
	}
	deps.MetricInc(deps.Metrics.LoginRateLimited)
	deps.EmitLoginAudit(ctx, email, ip, StatusBlocked, reason)
	return deps.Errors.Blocked(decision.RetryAfter, reason)
}

func incrementLimiter(ctx context.Context, ip, email string, deps LoginDeps) {
	if _, err := deps.IncrementLimiter(ctx, ip, email); err != nil {
		deps.MetricInc(deps.Metrics.LimiterUnavailable)
		deps.Warn("goGuard: rate limiter increment failed", "error", err)
	}
}

// escalateLockout counts an identifier-wide failure and persists a lock when
// the threshold is crossed.
func escalateLockout(ctx context.Context, email string, deps LoginDeps) {
	if deps.RecordLockoutFailure == nil {
		return
	}
	reached, err := deps.RecordLockoutFailure(ctx, email)
	if err != nil {
		deps.Warn("goGuard: lockout counter failed", "error", err)
		return
	}
	if !reached || deps.SetLockout == nil {
		return
	}
	if err := deps.SetLockout(ctx, email, deps.Now().Add(deps.LockoutDuration)); err != nil {
		deps.Warn("goGuard: lockout persist failed", "error", err)
		return
	}
	deps.MetricInc(deps.Metrics.AccountLocked)
}

func lockedOut(ctx context.Context, account LoginAccount, ip string, deps LoginDeps) error {
	now := deps.Now()
	if account.LockoutUntil.IsZero() || !now.Before(account.LockoutUntil) {
		return nil
	}
	deps.MetricInc(deps.Metrics.LoginLockedOut)
	deps.EmitLoginAudit(ctx, account.Email, ip, StatusBlocked, ReasonAccountLocked)
	return deps.Errors.Blocked(account.LockoutUntil.Sub(now), ReasonAccountLocked)
}

// authenticated clears failure state, audits and issues the session.
func authenticated(ctx context.Context, account LoginAccount, ip, reason string, deps LoginDeps) (*LoginOutcome, error) {
	if err := deps.ResetLimiter(ctx, ip, account.Email); err != nil {
		deps.MetricInc(deps.Metrics.LimiterUnavailable)
		deps.Warn("goGuard: rate limiter reset failed", "error", err)
	}
	if deps.ResetLockout != nil {
		if err := deps.ResetLockout(ctx, account.Email); err != nil {
			deps.Warn("goGuard: lockout reset failed", "error", err)
		}
	}

	token, expiresAt, err := deps.IssueSession(ctx, account)
	if err != nil {
		deps.Warn("goGuard: access token issue failed", "error", err)
		return nil, deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitLoginAudit(ctx, account.Email, ip, StatusSuccess, reason)
	return &LoginOutcome{
		Authenticated: true,
		Email:         account.Email,
		Role:          account.Role,
		AccessToken:   token,
		ExpiresAt:     expiresAt,
	}, nil
}

// RunLogin executes the password step and either authenticates (trusted
// device) or opens a second-factor challenge.
func RunLogin(ctx context.Context, email, password, deviceToken string, deps LoginDeps) (*LoginOutcome, error) {
	deps.defaults()
	if deps.CheckLimiter == nil ||
		deps.IncrementLimiter == nil ||
		deps.ResetLimiter == nil ||
		deps.GetAccount == nil ||
		deps.VerifyPassword == nil ||
		deps.CreateChallenge == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	start := deps.Now()
	defer func() { deps.ObserveLatency(deps.Now().Sub(start)) }()

	ip := deps.ClientIPFromContext(ctx)

	if err := checkLimiter(ctx, ip, email, deps); err != nil {
		return nil, err
	}

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		if !deps.IsNotFound(err) {
			deps.Warn("goGuard: account lookup failed", "error", err)
			return nil, deps.Errors.Unavailable
		}
		deps.VerifyDummy(password)
		incrementLimiter(ctx, ip, email, deps)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "unknown_account")
		return nil, deps.Errors.InvalidCredentials
	}

	if err := lockedOut(ctx, account, ip, deps); err != nil {
		return nil, err
	}

	if !deps.VerifyPassword(password, account.PasswordHash) {
		incrementLimiter(ctx, ip, email, deps)
		escalateLockout(ctx, email, deps)
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "password_mismatch")
		return nil, deps.Errors.InvalidCredentials
	}

	if !account.Active {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "account_inactive")
		return nil, deps.Errors.InvalidCredentials
	}

	if deps.UpgradePasswordHash != nil {
		deps.UpgradePasswordHash(ctx, account, password)
	}
	password = ""

	if deps.TrustedDevicesEnabled && deviceToken != "" && deps.VerifyDeviceToken != nil {
		if deps.VerifyDeviceToken(ctx, deviceToken, account.Email) {
			deps.MetricInc(deps.Metrics.TrustedDeviceAccepted)
			return authenticated(ctx, account, ip, "trusted_device", deps)
		}
		deps.Warn("goGuard: trusted device token rejected")
	}

	method := MethodOTP
	if account.TOTPEnabled {
		method = MethodTOTP
	} else {
		if deps.StartOTP == nil {
			return nil, deps.Errors.EngineNotReady
		}
		if err := deps.StartOTP(ctx, account.Email); err != nil {
			deps.Warn("goGuard: login passcode dispatch failed", "error", err)
			return nil, deps.Errors.Unavailable
		}
	}

	challengeID, err := deps.CreateChallenge(ctx, LoginChallenge{Email: account.Email, IP: ip, Method: method})
	if err != nil {
		deps.Warn("goGuard: login challenge create failed", "error", err)
		return nil, deps.Errors.Unavailable
	}

	deps.MetricInc(deps.Metrics.SecondFactorRequired)
	deps.EmitLoginAudit(ctx, account.Email, ip, StatusSecondFactorRequired, method)
	return &LoginOutcome{
		Email:       account.Email,
		Method:      method,
		ChallengeID: challengeID,
	}, nil
}

func methodAllowed(challengeMethod, method string) bool {
	switch challengeMethod {
	case MethodTOTP:
		return method == MethodTOTP || method == MethodBackupCode
	case MethodOTP:
		return method == MethodOTP
	default:
		return false
	}
}

// RunCompleteLogin verifies the second factor for an open challenge.
func RunCompleteLogin(ctx context.Context, challengeID, code, method string, trustDevice bool, deps LoginDeps) (*LoginOutcome, error) {
	deps.defaults()
	if deps.CheckLimiter == nil ||
		deps.IncrementLimiter == nil ||
		deps.ResetLimiter == nil ||
		deps.GetAccount == nil ||
		deps.GetChallenge == nil ||
		deps.DeleteChallenge == nil ||
		deps.RecordChallengeFailure == nil ||
		deps.VerifySecondFactor == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)

	challenge, err := deps.GetChallenge(ctx, challengeID)
	if err != nil {
		mapped := deps.MapChallengeError(err)
		if mapped == deps.Errors.ChallengeInvalid {
			// Guessing challenge IDs is charged to the address.
			incrementLimiter(ctx, ip, "", deps)
		}
		deps.MetricInc(deps.Metrics.SecondFactorFailure)
		deps.EmitLoginAudit(ctx, "", ip, StatusFailure, "challenge_invalid")
		return nil, mapped
	}
	email := challenge.Email

	if err := checkLimiter(ctx, ip, email, deps); err != nil {
		return nil, err
	}

	if !methodAllowed(challenge.Method, method) {
		deps.MetricInc(deps.Metrics.SecondFactorFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "method_not_allowed")
		return nil, deps.Errors.MethodNotAllowed
	}

	account, err := deps.GetAccount(ctx, email)
	if err != nil {
		if deps.IsNotFound(err) {
			_, _ = deps.DeleteChallenge(ctx, challengeID)
			deps.MetricInc(deps.Metrics.SecondFactorFailure)
			return nil, deps.Errors.ChallengeInvalid
		}
		deps.Warn("goGuard: account lookup failed", "error", err)
		return nil, deps.Errors.Unavailable
	}
	if err := lockedOut(ctx, account, ip, deps); err != nil {
		return nil, err
	}
	if !account.Active {
		_, _ = deps.DeleteChallenge(ctx, challengeID)
		deps.MetricInc(deps.Metrics.SecondFactorFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "account_inactive")
		return nil, deps.Errors.InvalidCredentials
	}

	ok, err := deps.VerifySecondFactor(ctx, account, method, code)
	if err != nil {
		deps.Warn("goGuard: second factor verification failed", "error", err)
		return nil, deps.Errors.Unavailable
	}
	if !ok {
		incrementLimiter(ctx, ip, email, deps)
		escalateLockout(ctx, email, deps)
		exhausted, recErr := deps.RecordChallengeFailure(ctx, challengeID)
		deps.MetricInc(deps.Metrics.SecondFactorFailure)
		if recErr != nil {
			mapped := deps.MapChallengeError(recErr)
			deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "challenge_invalid")
			return nil, mapped
		}
		if exhausted {
			deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "challenge_exhausted")
			return nil, deps.Errors.ChallengeInvalid
		}
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "invalid_"+method)
		return nil, deps.Errors.InvalidSecondFactor
	}

	deleted, err := deps.DeleteChallenge(ctx, challengeID)
	if err != nil {
		deps.Warn("goGuard: login challenge delete failed", "error", err)
		return nil, deps.Errors.Unavailable
	}
	if !deleted {
		// A concurrent completion already consumed the challenge.
		deps.MetricInc(deps.Metrics.SecondFactorFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "challenge_replay")
		return nil, deps.Errors.ChallengeInvalid
	}
	if method == MethodOTP && deps.ClearOTP != nil {
		if err := deps.ClearOTP(ctx, email); err != nil {
			deps.Warn("goGuard: login passcode clear failed", "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.SecondFactorSuccess)
	outcome, err := authenticated(ctx, account, ip, method, deps)
	if err != nil {
		return nil, err
	}

	if trustDevice && deps.TrustedDevicesEnabled && deps.IssueDeviceToken != nil {
		token, err := deps.IssueDeviceToken(ctx, email)
		if err != nil {
			deps.Warn("goGuard: trusted device issue failed", "error", err)
		} else {
			outcome.DeviceToken = token
			deps.MetricInc(deps.Metrics.TrustedDeviceIssued)
		}
	}
	return outcome, nil
}
