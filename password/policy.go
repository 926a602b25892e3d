package password

import (
	"errors"
	"unicode/utf8"
)

var (
	// ErrTooShort is returned by Policy.Check for passwords under MinLength bytes.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned by Policy.Check for passwords over MaxLength bytes.
	ErrTooLong = errors.New("password too long")
	// ErrInvalidEncoding is returned by Policy.Check for passwords that are not valid UTF-8.
	ErrInvalidEncoding = errors.New("password is not valid utf-8")
)

// Policy holds the local (offline) rules a new password must satisfy. The
// breach corpus check is applied separately by the engine.
type Policy struct {
	MinLength int
	MaxLength int
}

// Check applies the length and encoding rules. Lengths are in bytes; no
// normalization is performed.
func (p Policy) Check(password string) error {
	if !utf8.ValidString(password) {
		return ErrInvalidEncoding
	}
	if p.MinLength > 0 && len(password) < p.MinLength {
		return ErrTooShort
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		return ErrTooLong
	}
	return nil
}
