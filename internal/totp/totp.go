// Package totp wraps RFC 6238 time-based codes and the single-use backup codes
// issued when a second factor is enabled.
package totp

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrEmptySecret = errors.New("totp: empty secret")

// Config tunes code generation and verification.
type Config struct {
	Issuer string
	Period uint
	Digits int
	// Skew is the number of periods accepted either side of now.
	Skew uint
	// QRSize is the edge length in pixels of the provisioning QR image.
	QRSize int
}

// Provisioning is what a user needs to enroll an authenticator.
type Provisioning struct {
	Secret string
	URI    string
	// QRCode is a PNG encoded as a data URL.
	QRCode string
}

// Manager generates and checks TOTP secrets.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager applies defaults (SHA1, 6 digits, 30s, skew 1). now may be nil.
func NewManager(cfg Config, now func() time.Time) *Manager {
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits != 8 {
		cfg.Digits = 6
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 200
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "goGuard"
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}
}

func (m *Manager) digits() otp.Digits {
	if m.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Generate creates a fresh secret for account together with its otpauth URI
// and QR image.
func (m *Manager) Generate(account string) (Provisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.config.Period,
		Digits:      m.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Provisioning{}, err
	}

	img, err := key.Image(m.config.QRSize, m.config.QRSize)
	if err != nil {
		return Provisioning{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Provisioning{}, err
	}

	return Provisioning{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (m *Manager) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    m.digits(),
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Verify reports whether code is valid for secret at the current time step or
// within Skew steps of it, and returns the time step it matched. Callers that
// must reject replays record the step and refuse any step at or below it.
// Malformed input yields false.
func (m *Manager) Verify(code, secret string) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != int(m.digits()) || !isNumeric(code) || secret == "" {
		return 0, false
	}

	period := int64(m.config.Period)
	now := m.now().UTC().Unix()
	base := now / period
	skew := int64(m.config.Skew)
	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), m.opts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// CodeAt returns the code for secret at t.
func (m *Manager) CodeAt(secret string, t time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	return totp.GenerateCodeCustom(secret, t, m.opts())
}
