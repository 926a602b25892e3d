package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedDigest is returned by parse for digests that are not argon2id PHC strings.
	ErrMalformedDigest = errors.New("malformed password digest")
	// ErrEmptyPassword is returned by Hash for an empty password.
	ErrEmptyPassword = errors.New("empty password")
)

// Config holds the Argon2id cost parameters used for new digests.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes and verifies passwords with Argon2id. It is safe for concurrent use.
type Argon2 struct {
	config Config
	// decoy is verified against when a stored digest cannot be parsed, so a
	// malformed digest costs the same as a real comparison.
	decoy digest
}

type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	salt := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	return &Argon2{
		config: cfg,
		decoy: digest{
			memory:      cfg.Memory,
			time:        cfg.Time,
			parallelism: cfg.Parallelism,
			salt:        salt,
			key:         make([]byte, cfg.KeyLength),
		},
	}, nil
}

// Hash derives a PHC-encoded digest with a fresh random salt:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	d := digest{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	d.key = d.derive(password, a.config.KeyLength)

	return d.String(), nil
}

// Verify reports whether password matches encoded. A malformed digest is
// indistinguishable from a wrong password: both cost one derivation and return false.
func (a *Argon2) Verify(password, encoded string) bool {
	d, err := parse(encoded)
	if err != nil {
		_ = a.decoy.matches(password)
		return false
	}
	return d.matches(password)
}

// VerifyDummy performs one derivation against an internal decoy digest. Callers use
// it for unknown accounts so that lookup misses take as long as real checks.
func (a *Argon2) VerifyDummy(password string) {
	_ = a.decoy.matches(password)
}

// NeedsRehash reports whether encoded was produced with weaker parameters than the
// current configuration. Malformed digests always need a rehash.
func (a *Argon2) NeedsRehash(encoded string) bool {
	d, err := parse(encoded)
	if err != nil {
		return true
	}
	return d.memory < a.config.Memory ||
		d.time < a.config.Time ||
		d.parallelism < a.config.Parallelism ||
		uint32(len(d.key)) != a.config.KeyLength
}

// parse decodes a PHC argon2id string.
func parse(encoded string) (digest, error) {
	var d digest

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return d, ErrMalformedDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return d, ErrMalformedDigest
	}

	var parallelism uint32
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &parallelism); err != nil || n != 3 {
		return d, ErrMalformedDigest
	}
	if d.memory < minMemoryKB || d.time < minTimeCost || parallelism < uint32(minParallelism) || parallelism > 255 {
		return d, ErrMalformedDigest
	}
	d.parallelism = uint8(parallelism)

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return d, ErrMalformedDigest
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) < int(minKeyLength) {
		return d, ErrMalformedDigest
	}
	d.salt = salt
	d.key = key

	return d, nil
}

func (d digest) derive(password string, keyLength uint32) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.parallelism, keyLength)
}

func (d digest) matches(password string) bool {
	computed := d.derive(password, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(computed, d.key) == 1
}

func (d digest) String() string {
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		d.memory,
		d.time,
		d.parallelism,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key),
	)
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}
