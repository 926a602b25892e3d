package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"gopkg.in/gomail.v2"
)

func TestSendOTPEmail(t *testing.T) {
	var (
		gotFrom string
		gotTo   []string
		raw     bytes.Buffer
	)
	s := NewSenderWith(Config{From: "noreply@x.io", AppName: "Acme"}, gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		gotFrom, gotTo = from, to
		_, err := msg.WriteTo(&raw)
		return err
	}))

	if err := s.SendOTPEmail(context.Background(), "a@x.io", "123456", "password_reset"); err != nil {
		t.Fatalf("SendOTPEmail: %v", err)
	}
	if gotFrom != "noreply@x.io" || len(gotTo) != 1 || gotTo[0] != "a@x.io" {
		t.Fatalf("unexpected envelope %q %v", gotFrom, gotTo)
	}
	msg := raw.String()
	if !strings.Contains(msg, "123456") {
		t.Fatal("message must contain the code")
	}
	if !strings.Contains(msg, "Acme password reset code") {
		t.Fatalf("unexpected subject in %q", msg)
	}
}

func TestSendOTPEmailErrors(t *testing.T) {
	boom := errors.New("smtp down")
	s := NewSenderWith(Config{From: "noreply@x.io"}, gomail.SendFunc(func(string, []string, io.WriterTo) error {
		return boom
	}))

	if err := s.SendOTPEmail(context.Background(), "a@x.io", "123456", "login"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped smtp error, got %v", err)
	}
	if err := s.SendOTPEmail(context.Background(), " ", "123456", "login"); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestSendOTPEmailHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := NewSenderWith(Config{From: "noreply@x.io"}, gomail.SendFunc(func(string, []string, io.WriterTo) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.SendOTPEmail(ctx, "a@x.io", "123456", "login"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
