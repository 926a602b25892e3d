package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/breach"
	"github.com/MrEthical07/goGuard/devicetoken"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/delivery"
	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/otp"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/internal/totp"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/sealed"
)

// Engine is the authentication decision point. It is safe for concurrent use
// and holds no per-request state; all counters live in Redis.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	accounts AccountStore
	delivery *delivery.Dispatcher

	rateLimiter *rate.Limiter
	lockout     *limiters.LockoutLimiter
	sends       *limiters.SendLimiter
	challenges  *stores.LoginChallengeStore
	devices     *stores.TrustedDeviceStore

	otp          *otp.Manager
	totp         *totp.Manager
	jwtManager   *jwt.Manager
	deviceTokens *devicetoken.Service
	box          *sealed.Box

	passwordHash *password.Argon2
	policy       password.Policy
	breach       *breach.Checker

	audit   *audit.Dispatcher
	metrics *Metrics
	flows   flows.Deps
}

// Close drains queued passcode mail, then flushes pending audit entries.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.delivery != nil {
		e.delivery.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped is the number of audit entries dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed is the number of audit entries the sink rejected.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

// MetricsSnapshot returns a copy of every counter and histogram.
//
// With metrics disabled the maps are empty but non-nil. The copy is taken
// without locks, so counters may advance between individual reads.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	return e.now()
}

func (e *Engine) warn(msg string, args ...any) {
	e.logger.Warn(msg, args...)
}

// ValidateAccessToken verifies an access token issued by Login or CompleteLogin.
func (e *Engine) ValidateAccessToken(token string) (*SessionClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	out := &SessionClaims{
		Email: claims.Email(),
		Role:  claims.Role,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// PublicKey returns the base64url public half of the payload encryption keypair.
func (e *Engine) PublicKey() string {
	return e.box.PublicKey()
}

// Encrypt seals plaintext to the engine's own public key.
func (e *Engine) Encrypt(plaintext []byte) (string, error) {
	return e.box.Encrypt(plaintext)
}

// Decrypt opens a payload sealed to the engine's public key.
func (e *Engine) Decrypt(ciphertext string) ([]byte, error) {
	return e.box.Decrypt(ciphertext)
}

// UsingDevelopmentKeypair reports whether payload encryption runs on the
// built-in, non-secret keypair.
func (e *Engine) UsingDevelopmentKeypair() bool {
	return e.box.IsDevelopment()
}

func (e *Engine) blocked(retryAfter time.Duration, reason string) error {
	return &BlockedError{RetryAfter: retryAfter, Reason: reason}
}

func (e *Engine) checkLimiter(ctx context.Context, ip, email string) (flows.LimiterDecision, error) {
	d, err := e.rateLimiter.Check(ctx, ip, email)
	return flows.LimiterDecision{Allowed: d.Allowed, RetryAfter: d.RetryAfter}, err
}

func (e *Engine) incrementLimiter(ctx context.Context, ip, email string) (flows.LimiterDecision, error) {
	d, err := e.rateLimiter.Increment(ctx, ip, email)
	return flows.LimiterDecision{Allowed: d.Allowed, RetryAfter: d.RetryAfter}, err
}

func (e *Engine) emitLoginAudit(ctx context.Context, email, ip, status, reason string) {
	e.audit.Emit(ctx, audit.Event{
		Kind:   audit.KindLogin,
		Email:  email,
		IP:     ip,
		Status: status,
		Reason: reason,
	})
}

func (e *Engine) emitSystemAudit(ctx context.Context, action, email, ip, details string) {
	e.audit.Emit(ctx, audit.Event{
		Kind:    audit.KindSystem,
		Action:  action,
		Email:   email,
		IP:      ip,
		Details: details,
	})
}

func isAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// resetFailureState clears limiter and lockout state after an account proves
// control of its credentials.
func (e *Engine) resetFailureState(ctx context.Context, ip, email string) {
	if err := e.rateLimiter.Reset(ctx, ip, email); err != nil {
		e.metricInc(MetricLimiterUnavailable)
		e.warn("goGuard: rate limiter reset failed", "error", err)
	}
	if err := e.resetLockout(ctx, email); err != nil {
		e.warn("goGuard: lockout reset failed", "error", err)
	}
}

func (e *Engine) resetLockout(ctx context.Context, email string) error {
	if err := e.lockout.Reset(ctx, email); err != nil {
		return err
	}
	return e.accounts.ClearLockout(ctx, email)
}
