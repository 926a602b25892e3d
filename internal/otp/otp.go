// Package otp issues and verifies short-lived numeric passcodes that are
// delivered out of band. Only the SHA-256 of a code is ever kept.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
	"time"
)

// Purpose scopes a challenge to the flow that issued it.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposePasswordReset Purpose = "password_reset"
)

var (
	ErrNoChallenge     = errors.New("otp: no outstanding challenge")
	ErrExpired         = errors.New("otp: challenge expired")
	ErrMismatch        = errors.New("otp: code mismatch")
	ErrPurposeMismatch = errors.New("otp: challenge issued for a different purpose")
	ErrInvalidDigits   = errors.New("otp: digits must be between 6 and 10")
)

// Challenge is the persisted half of an OTP: at most one per account.
type Challenge struct {
	Hash      [32]byte
	ExpiresAt time.Time
	Purpose   Purpose
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeLogin || p == PurposePasswordReset
}

// Manager generates codes of a fixed length and lifetime.
type Manager struct {
	digits int
	ttl    time.Duration
	now    func() time.Time
}

// NewManager returns a Manager. now may be nil.
func NewManager(digits int, ttl time.Duration, now func() time.Time) (*Manager, error) {
	if digits < 6 || digits > 10 {
		return nil, ErrInvalidDigits
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{digits: digits, ttl: ttl, now: now}, nil
}

// Digits returns the configured code length.
func (m *Manager) Digits() int { return m.digits }

// Issue generates a new code and the challenge to store in place of any prior one.
// The raw code is returned only for delivery.
func (m *Manager) Issue(purpose Purpose) (string, Challenge, error) {
	var b strings.Builder
	b.Grow(m.digits)

	max := big.NewInt(10)
	for i := 0; i < m.digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", Challenge{}, err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	return code, Challenge{
		Hash:      Hash(code),
		ExpiresAt: m.now().Add(m.ttl),
		Purpose:   purpose,
	}, nil
}

// Verify checks code against c. A nil challenge means none is outstanding.
// It does not clear the challenge.
func (m *Manager) Verify(c *Challenge, code string, purpose Purpose) error {
	if c == nil {
		return ErrNoChallenge
	}
	if !m.now().Before(c.ExpiresAt) {
		return ErrExpired
	}
	if c.Purpose != purpose {
		return ErrPurposeMismatch
	}
	sum := Hash(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare(sum[:], c.Hash[:]) != 1 {
		return ErrMismatch
	}
	return nil
}

// Hash returns the stored form of a code.
func Hash(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}
