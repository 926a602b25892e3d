package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

func TestUnknownAccount(t *testing.T) {
	s := New()
	if _, err := s.GetAccountByEmail(context.Background(), "ghost@x.com"); !errors.Is(err, goGuard.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := s.SetLockout(context.Background(), "ghost@x.com", time.Now()); !errors.Is(err, goGuard.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(goGuard.Account{Email: "a@x.com", Active: true})
	if err := s.SaveOTPChallenge(ctx, "a@x.com", goGuard.OTPChallenge{Purpose: goGuard.OTPPurposeLogin}); err != nil {
		t.Fatalf("SaveOTPChallenge: %v", err)
	}

	a, _ := s.GetAccountByEmail(ctx, "a@x.com")
	a.Active = false
	a.OTP.Purpose = goGuard.OTPPurposePasswordReset

	b, _ := s.GetAccountByEmail(ctx, "a@x.com")
	if !b.Active || b.OTP.Purpose != goGuard.OTPPurposeLogin {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestPendingNeverReplacesEnabled(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(goGuard.Account{Email: "a@x.com"})

	if err := s.EnableTOTP(ctx, "a@x.com", "LIVE", [][32]byte{{1}, {2}}); err != nil {
		t.Fatalf("EnableTOTP: %v", err)
	}
	if err := s.SetTOTPPending(ctx, "a@x.com", "OTHER"); err != nil {
		t.Fatalf("SetTOTPPending: %v", err)
	}
	a, _ := s.GetAccountByEmail(ctx, "a@x.com")
	if secret, ok := a.TOTP.EnabledSecret(); !ok || secret != "LIVE" {
		t.Fatalf("enabled secret changed: %v %q", a.TOTP.Status(), secret)
	}
}

func TestBackupCodesConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(goGuard.Account{Email: "a@x.com"})
	_ = s.EnableTOTP(ctx, "a@x.com", "LIVE", [][32]byte{{1}, {2}})

	ok, err := s.ConsumeBackupCode(ctx, "a@x.com", [32]byte{1})
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, "a@x.com", [32]byte{1}); ok {
		t.Fatal("backup code consumed twice")
	}
	if n := s.BackupCodes("a@x.com"); n != 1 {
		t.Fatalf("expected 1 code left, got %d", n)
	}

	if err := s.DisableTOTP(ctx, "a@x.com"); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	if n := s.BackupCodes("a@x.com"); n != 0 {
		t.Fatalf("disable kept %d codes", n)
	}
	if err := s.DisableTOTP(ctx, "a@x.com"); err != nil {
		t.Fatalf("second DisableTOTP: %v", err)
	}
}

func TestReplaceBackupCodesRequiresEnabledTOTP(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(goGuard.Account{Email: "a@x.com"})

	if err := s.ReplaceBackupCodes(ctx, "a@x.com", [][32]byte{{9}}); !errors.Is(err, goGuard.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound without totp, got %v", err)
	}

	_ = s.EnableTOTP(ctx, "a@x.com", "LIVE", [][32]byte{{1}, {2}})
	if err := s.ReplaceBackupCodes(ctx, "a@x.com", [][32]byte{{7}, {8}, {9}}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
	if n := s.BackupCodes("a@x.com"); n != 3 {
		t.Fatalf("expected 3 codes, got %d", n)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, "a@x.com", [32]byte{1}); ok {
		t.Fatal("replaced code still accepted")
	}
}

func TestRecordTOTPCounterOnlyAdvances(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(goGuard.Account{Email: "a@x.com"})

	steps := []struct {
		counter int64
		want    bool
	}{
		{100, true},
		{100, false},
		{99, false},
		{101, true},
	}
	for _, st := range steps {
		got, err := s.RecordTOTPCounter(ctx, "a@x.com", st.counter)
		if err != nil {
			t.Fatalf("RecordTOTPCounter(%d): %v", st.counter, err)
		}
		if got != st.want {
			t.Fatalf("RecordTOTPCounter(%d) = %v, want %v", st.counter, got, st.want)
		}
	}

	if _, err := s.RecordTOTPCounter(ctx, "ghost@x.com", 1); !errors.Is(err, goGuard.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
