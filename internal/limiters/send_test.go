package limiters

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSendLimiterPerEmail(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewSendLimiter(rdb, SendConfig{Enabled: true, MaxPerEmail: 3, MaxPerIP: 100, Window: time.Hour})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := l.CheckRequest(ctx, "victim@x.io", "10.0.0.1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	err := l.CheckRequest(ctx, "Victim@x.io", "10.0.0.2")
	if !errors.Is(err, ErrSendRateLimited) {
		t.Fatalf("expected ErrSendRateLimited, got %v", err)
	}
	var limitErr *SendLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *SendLimitError, got %T", err)
	}
	if limitErr.RetryAfter <= 0 || limitErr.RetryAfter > time.Hour {
		t.Fatalf("unexpected retry-after %v", limitErr.RetryAfter)
	}

	if err := l.CheckRequest(ctx, "other@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("other recipient should be unaffected: %v", err)
	}
}

func TestSendLimiterPerIPCountsUnknownRecipients(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewSendLimiter(rdb, SendConfig{Enabled: true, MaxPerEmail: 100, MaxPerIP: 5, Window: time.Hour})
	ctx := context.Background()

	recipients := []string{"a@x.io", "b@x.io", "nobody@x.io", "c@x.io", "ghost@x.io"}
	for _, r := range recipients {
		if err := l.CheckRequest(ctx, r, "203.0.113.9"); err != nil {
			t.Fatalf("request for %s: %v", r, err)
		}
	}
	if err := l.CheckRequest(ctx, "d@x.io", "203.0.113.9"); !errors.Is(err, ErrSendRateLimited) {
		t.Fatalf("expected address limit, got %v", err)
	}
	if err := l.CheckRequest(ctx, "d@x.io", "203.0.113.10"); err != nil {
		t.Fatalf("other address should be unaffected: %v", err)
	}
}

func TestSendLimiterWindowResets(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewSendLimiter(rdb, SendConfig{Enabled: true, MaxPerEmail: 1, Window: time.Minute})
	ctx := context.Background()

	if err := l.CheckRequest(ctx, "w@x.io", ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.CheckRequest(ctx, "w@x.io", ""); !errors.Is(err, ErrSendRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if ttl := mr.TTL(sendEmailKey("w@x.io")); ttl <= 0 {
		t.Fatalf("counter must carry a ttl, got %v", ttl)
	}

	mr.FastForward(61 * time.Second)
	if err := l.CheckRequest(ctx, "w@x.io", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestSendLimiterDisabledAndBackendDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	off := NewSendLimiter(rdb, SendConfig{Enabled: false, MaxPerEmail: 1})
	for i := 0; i < 3; i++ {
		if err := off.CheckRequest(context.Background(), "d@x.io", "1.1.1.1"); err != nil {
			t.Fatalf("disabled limiter must admit, got %v", err)
		}
	}

	var nilLimiter *SendLimiter
	if err := nilLimiter.CheckRequest(context.Background(), "d@x.io", "1.1.1.1"); err != nil {
		t.Fatalf("nil limiter must admit, got %v", err)
	}

	on := NewSendLimiter(rdb, SendConfig{Enabled: true, MaxPerEmail: 1})
	mr.Close()
	if err := on.CheckRequest(context.Background(), "d@x.io", ""); !errors.Is(err, ErrSendRedisUnavailable) {
		t.Fatalf("expected ErrSendRedisUnavailable, got %v", err)
	}
}
