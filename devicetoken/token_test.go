package devicetoken

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testKey = []byte("device-token-test-key-0123456789abcdef")

func TestIssueVerify(t *testing.T) {
	s, err := New(testKey, 0, "goguard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := NewTokenID()
	tok, err := s.Issue(" A@X.io ", id)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "a@x.io" || claims.TokenID != id {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != DefaultTTL {
		t.Fatalf("expected %v ceiling, got %v", DefaultTTL, got)
	}
}

func TestVerifyRejectsTamperedAndForeignKey(t *testing.T) {
	s, _ := New(testKey, time.Hour, "")
	other, _ := New([]byte("another-device-token-key-0123456789ab"), time.Hour, "")

	tok, _ := s.Issue("a@x.io", "t1")
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign key rejection, got %v", err)
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := s.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tamper rejection, got %v", err)
	}
	if _, err := s.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty rejection, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s, _ := New(testKey, time.Hour, "")
	tok, _ := s.Issue("a@x.io", "t1")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}
}

func TestNewRejectsWeakKey(t *testing.T) {
	if _, err := New([]byte("short"), 0, ""); !errors.Is(err, ErrWeakKey) {
		t.Fatalf("expected ErrWeakKey, got %v", err)
	}
}
