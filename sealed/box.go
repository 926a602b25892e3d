// Package sealed encrypts small payloads that must cross an untrusted channel.
//
// Ciphertexts are NaCl anonymous sealed boxes (X25519, XSalsa20-Poly1305)
// encoded as unpadded base64url. Anyone holding the public key can seal; only
// the private key opens.
package sealed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const KeySize = 32

var (
	ErrDecrypt        = errors.New("sealed: cannot open ciphertext")
	ErrInvalidKey     = errors.New("sealed: key must be 32 bytes")
	ErrDevelopmentKey = errors.New("sealed: built-in development keypair is not allowed in production")
)

// developmentSeed derives the built-in keypair. It is public knowledge: anything
// sealed to the development key can be opened by anyone.
const developmentSeed = "goGuard development keypair"

// Box holds one keypair.
type Box struct {
	public      [KeySize]byte
	private     [KeySize]byte
	development bool
}

// New builds a Box from a raw private key. The public key is derived.
func New(privateKey []byte) (*Box, error) {
	if len(privateKey) != KeySize {
		return nil, ErrInvalidKey
	}
	b := &Box{}
	copy(b.private[:], privateKey)
	pub, err := curve25519.X25519(b.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("sealed: derive public key: %w", err)
	}
	copy(b.public[:], pub)
	return b, nil
}

// Generate creates a random keypair.
func Generate() (*Box, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Box{public: *pub, private: *priv}, nil
}

// Development returns the built-in, non-secret keypair. Every call logs at
// error level; production callers must reject it (see Load).
func Development(logger *slog.Logger) *Box {
	if logger != nil {
		logger.Error("using built-in development keypair for sealed payloads; configure a private key before deploying")
	}
	seed := sha256.Sum256([]byte(developmentSeed))
	b, _ := New(seed[:])
	b.development = true
	return b
}

// Load decodes a base64url private key. An empty key falls back to the
// development keypair unless production is set.
func Load(encodedPrivateKey string, production bool, logger *slog.Logger) (*Box, error) {
	if encodedPrivateKey == "" {
		if production {
			return nil, ErrDevelopmentKey
		}
		return Development(logger), nil
	}
	raw, err := decode(encodedPrivateKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	b, err := New(raw)
	if err != nil {
		return nil, err
	}
	if production && b.IsDevelopment() {
		return nil, ErrDevelopmentKey
	}
	return b, nil
}

// IsDevelopment reports whether b is the built-in keypair.
func (b *Box) IsDevelopment() bool {
	if b.development {
		return true
	}
	seed := sha256.Sum256([]byte(developmentSeed))
	return b.private == seed
}

// PublicKey returns the base64url public key, safe to publish.
func (b *Box) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(b.public[:])
}

// PrivateKey returns the base64url private key for provisioning configs.
func (b *Box) PrivateKey() string {
	return base64.RawURLEncoding.EncodeToString(b.private[:])
}

// Encrypt seals plaintext to the box's public key.
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	return Seal(b.public, plaintext)
}

// Decrypt opens a ciphertext produced for this keypair. Any failure, including
// a ciphertext for another key, returns ErrDecrypt.
func (b *Box) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := decode(ciphertext)
	if err != nil {
		return nil, ErrDecrypt
	}
	out, ok := box.OpenAnonymous(nil, raw, &b.public, &b.private)
	if !ok {
		return nil, ErrDecrypt
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Seal encrypts plaintext to an arbitrary recipient public key.
func Seal(recipient [KeySize]byte, plaintext []byte) (string, error) {
	out, err := box.SealAnonymous(nil, plaintext, &recipient, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("sealed: encrypt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
