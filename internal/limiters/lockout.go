package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the per-account lockout counter.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	// Window bounds how long a failure streak is remembered.
	Window time.Duration
	// Duration is how long the account stays locked once Threshold is reached.
	Duration time.Duration
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter counts failed credential checks per account, independent of the
// client address. It does not store the lock itself: the caller persists
// LockoutUntil on the account when RecordFailure reports the threshold.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Window <= 0 {
		cfg.Window = cfg.Duration
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) key(email string) string {
	return "glo:" + strings.ToLower(email)
}

// LockDuration reports the configured lock length.
func (l *LockoutLimiter) LockDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Duration
}

// RecordFailure increments the failure counter for an account. It returns true
// when the threshold has been reached; the counter is cleared at that point so
// the next streak starts after the lock lapses.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, email string) (bool, error) {
	if l == nil || !l.config.Enabled || email == "" {
		return false, nil
	}

	key := l.key(email)
	count, _, err := incrWindow(ctx, l.redis, key, l.config.Window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count < int64(l.config.Threshold) {
		return false, nil
	}
	if err := l.redis.Del(ctx, key).Err(); err != nil {
		return true, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// Reset clears the failure counter (after successful login, password reset or unlock).
func (l *LockoutLimiter) Reset(ctx context.Context, email string) error {
	if l == nil || !l.config.Enabled || email == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// GetFailureCount returns the current failure count for an account.
func (l *LockoutLimiter) GetFailureCount(ctx context.Context, email string) (int, error) {
	if l == nil || !l.config.Enabled || email == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
