package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSendRateLimited indicates the address or the recipient has exhausted
	// its dispatch allowance for the current window.
	ErrSendRateLimited = errors.New("send rate limited")
	// ErrSendRedisUnavailable indicates the send counter backend is unreachable.
	ErrSendRedisUnavailable = errors.New("send redis unavailable")
)

// SendConfig holds configuration for the passcode dispatch limiter.
type SendConfig struct {
	Enabled bool
	// MaxPerEmail bounds dispatch requests for one recipient per Window.
	MaxPerEmail int
	// MaxPerIP bounds dispatch requests from one client address per Window.
	MaxPerIP int
	Window   time.Duration
}

// SendLimiter is a fixed-window counter charged once per passcode request,
// before the account lookup, so known and unknown recipients cost the same.
type SendLimiter struct {
	redis  redis.UniversalClient
	config SendConfig
}

// NewSendLimiter creates a new dispatch limiter.
func NewSendLimiter(redisClient redis.UniversalClient, cfg SendConfig) *SendLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &SendLimiter{redis: redisClient, config: cfg}
}

// SendLimitError carries how long the caller must wait for the window that
// tripped to reset.
type SendLimitError struct {
	RetryAfter time.Duration
}

func (e *SendLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrSendRateLimited, e.RetryAfter)
}

func (e *SendLimitError) Unwrap() error { return ErrSendRateLimited }

// CheckRequest charges one request against the recipient and the client
// address. It returns a *SendLimitError once either window is exhausted.
func (l *SendLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	if email != "" && l.config.MaxPerEmail > 0 {
		if err := l.enforceFixedWindow(ctx, sendEmailKey(email), l.config.MaxPerEmail); err != nil {
			return err
		}
	}
	if ip != "" && l.config.MaxPerIP > 0 {
		if err := l.enforceFixedWindow(ctx, sendIPKey(ip), l.config.MaxPerIP); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the recipient counter. The address counter is left to expire.
func (l *SendLimiter) Reset(ctx context.Context, email string) error {
	if l == nil || !l.config.Enabled || email == "" {
		return nil
	}
	if err := l.redis.Del(ctx, sendEmailKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendRedisUnavailable, err)
	}
	return nil
}

func (l *SendLimiter) enforceFixedWindow(ctx context.Context, key string, max int) error {
	count, ttl, err := incrWindow(ctx, l.redis, key, l.config.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendRedisUnavailable, err)
	}
	if count > int64(max) {
		return &SendLimitError{RetryAfter: ttl}
	}
	return nil
}

func sendEmailKey(email string) string {
	return "gsde:" + strings.ToLower(email)
}

func sendIPKey(ip string) string {
	return "gsdi:" + ip
}
