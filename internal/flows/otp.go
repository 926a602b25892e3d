package flows

import (
	"context"
	"time"
)

// OTPRecord is the flow-local stored half of an emailed passcode.
type OTPRecord struct {
	Hash      [32]byte
	ExpiresAt time.Time
	Purpose   string
}

// OTPMetrics carries metric IDs needed by passcode flows.
type OTPMetrics struct {
	OTPIssued          int
	OTPVerifyFailure   int
	OTPSendLimited     int
	OTPDeliveryFailed  int
	LoginRateLimited   int
	LimiterUnavailable int
}

// OTPErrors carries host-level sentinel errors used by passcode flows.
type OTPErrors struct {
	EngineNotReady error
	OTPInvalid     error
	Unavailable    error
	Blocked        func(retryAfter time.Duration, reason string) error
}

// OTPDeps captures passcode issue and verify dependencies.
type OTPDeps struct {
	ClientIPFromContext func(context.Context) string

	CheckLimiter     func(ctx context.Context, ip, email string) (LimiterDecision, error)
	IncrementLimiter func(ctx context.Context, ip, email string) (LimiterDecision, error)
	// ChargeSend counts one dispatch request for (ip, email) whether or not
	// the account exists. Nil disables the dispatch limit.
	ChargeSend func(ctx context.Context, ip, email string) (LimiterDecision, error)

	// GetChallenge returns the outstanding challenge, nil when none exists.
	GetChallenge  func(ctx context.Context, email string) (*OTPRecord, error)
	SaveChallenge func(ctx context.Context, email string, record OTPRecord) error
	IsNotFound    func(error) bool

	Issue  func(purpose string) (string, OTPRecord, error)
	Verify func(record *OTPRecord, code, purpose string) error
	Send   func(ctx context.Context, email, code, purpose string) error

	// Now and PadResponse stretch both request outcomes to the same floor.
	Now         func() time.Time
	PadResponse func(ctx context.Context, elapsed time.Duration) error

	EmitSystemAudit func(ctx context.Context, action, email, ip, details string)
	EmitLoginAudit  func(ctx context.Context, email, ip, status, reason string)
	MetricInc       func(int)
	Warn            func(string, ...any)

	Metrics OTPMetrics
	Errors  OTPErrors
}

func (deps *OTPDeps) defaults() {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.IsNotFound == nil {
		deps.IsNotFound = func(error) bool { return false }
	}
	if deps.EmitSystemAudit == nil {
		deps.EmitSystemAudit = func(context.Context, string, string, string, string) {}
	}
	if deps.EmitLoginAudit == nil {
		deps.EmitLoginAudit = func(context.Context, string, string, string, string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.PadResponse == nil {
		deps.PadResponse = func(context.Context, time.Duration) error { return nil }
	}
}

func (deps *OTPDeps) gate(ctx context.Context, ip, email string) error {
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
	return deps.Errors.Blocked(decision.RetryAfter, reason)
}

// chargeSend fails closed: a dispatch counter that cannot be read refuses the
// request rather than letting mail through unmetered.
func (deps *OTPDeps) chargeSend(ctx context.Context, ip, email string) error {
	if deps.ChargeSend == nil {
		return nil
	}
	decision, err := deps.ChargeSend(ctx, ip, email)
	if err != nil {
		deps.MetricInc(deps.Metrics.LimiterUnavailable)
		deps.Warn("goGuard: dispatch limiter failed", "error", err)
		return deps.Errors.Blocked(0, ReasonUnavailable)
	}
	if decision.Allowed {
		return nil
	}
	deps.MetricInc(deps.Metrics.OTPSendLimited)
	return deps.Errors.Blocked(decision.RetryAfter, ReasonRateLimited)
}

func (deps *OTPDeps) charge(ctx context.Context, ip, email string) {
	if _, err := deps.IncrementLimiter(ctx, ip, email); err != nil {
		deps.MetricInc(deps.Metrics.LimiterUnavailable)
		deps.Warn("goGuard: rate limiter increment failed", "error", err)
	}
}

// RunIssueOTP creates, stores and sends a passcode for an account known to
// exist. It overwrites any outstanding challenge.
func RunIssueOTP(ctx context.Context, email, purpose string, deps OTPDeps) error {
	deps.defaults()
	if deps.Issue == nil || deps.SaveChallenge == nil || deps.Send == nil {
		return deps.Errors.EngineNotReady
	}

	code, record, err := deps.Issue(purpose)
	if err != nil {
		return err
	}
	if err := deps.SaveChallenge(ctx, email, record); err != nil {
		deps.Warn("goGuard: passcode save failed", "error", err)
		return deps.Errors.Unavailable
	}
	if err := deps.Send(ctx, email, code, purpose); err != nil {
		deps.MetricInc(deps.Metrics.OTPDeliveryFailed)
		deps.Warn("goGuard: passcode delivery failed", "error", err)
		return deps.Errors.Unavailable
	}
	deps.MetricInc(deps.Metrics.OTPIssued)
	return nil
}

// RunRequestOTP issues a passcode when the account exists. Unknown accounts
// get the same nil answer without any dispatch. The dispatch limit is charged
// before the lookup, and both outcomes are padded to the same response floor.
func RunRequestOTP(ctx context.Context, email, purpose string, deps OTPDeps) error {
	deps.defaults()
	if deps.CheckLimiter == nil || deps.GetChallenge == nil {
		return deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.gate(ctx, ip, email); err != nil {
		return err
	}
	if err := deps.chargeSend(ctx, ip, email); err != nil {
		return err
	}

	start := deps.Now()
	err := requestOTP(ctx, ip, email, purpose, deps)
	if perr := deps.PadResponse(ctx, deps.Now().Sub(start)); perr != nil && err == nil {
		return perr
	}
	return err
}

func requestOTP(ctx context.Context, ip, email, purpose string, deps OTPDeps) error {
	if _, err := deps.GetChallenge(ctx, email); err != nil {
		if deps.IsNotFound(err) {
			deps.EmitSystemAudit(ctx, "otp_requested", email, ip, "unknown_account")
			return nil
		}
		deps.Warn("goGuard: account lookup failed", "error", err)
		return deps.Errors.Unavailable
	}

	if err := RunIssueOTP(ctx, email, purpose, deps); err != nil {
		return err
	}
	deps.EmitSystemAudit(ctx, "otp_requested", email, ip, purpose)
	return nil
}

// RunVerifyOTP checks a submitted passcode. Every failure, including an
// unknown account, charges the limiter for (ip, email). Success leaves the
// challenge in place for the consuming transition to clear.
func RunVerifyOTP(ctx context.Context, email, code, purpose string, deps OTPDeps) error {
	deps.defaults()
	if deps.CheckLimiter == nil ||
		deps.IncrementLimiter == nil ||
		deps.GetChallenge == nil ||
		deps.Verify == nil {
		return deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.gate(ctx, ip, email); err != nil {
		return err
	}

	record, err := deps.GetChallenge(ctx, email)
	if err != nil && !deps.IsNotFound(err) {
		deps.Warn("goGuard: account lookup failed", "error", err)
		return deps.Errors.Unavailable
	}

	if verr := deps.Verify(record, code, purpose); verr != nil {
		deps.charge(ctx, ip, email)
		deps.MetricInc(deps.Metrics.OTPVerifyFailure)
		deps.EmitLoginAudit(ctx, email, ip, StatusFailure, "invalid_otp")
		return deps.Errors.OTPInvalid
	}
	return nil
}
