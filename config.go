package goGuard

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override what differs.
type Config struct {
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	OTP           OTPConfig
	Delivery      DeliveryConfig
	TOTP          TOTPConfig
	SecondFactor  SecondFactorConfig
	TrustedDevice TrustedDeviceConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Breach        BreachConfig
	Crypto        CryptoConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

// RateLimitTier blocks a key for Block once Failures consecutive failures accumulate.
type RateLimitTier struct {
	Failures int
	Block    time.Duration
}

// RateLimitConfig configures the dual-keyed progressive limiter.
type RateLimitConfig struct {
	Tiers []RateLimitTier
	// Window is how long an idle failure streak is remembered.
	Window time.Duration
	// FailOpen admits attempts while the counter store is unreachable.
	FailOpen  bool
	KeyPrefix string
}

// LockoutConfig escalates repeated failures on one account, across all
// addresses, into a persisted lock.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// OTPConfig controls emailed passcodes: their shape, their lifetime and how
// often they may be requested.
type OTPConfig struct {
	Digits int
	TTL    time.Duration
	// ResponseFloor is the least time RequestOTP takes, whether or not the
	// account exists. A small random jitter is added on top.
	ResponseFloor time.Duration
	// SendWindow, MaxSendsPerEmail and MaxSendsPerIP bound passcode requests.
	// Zero disables the corresponding key.
	SendWindow       time.Duration
	MaxSendsPerEmail int
	MaxSendsPerIP    int
}

// DeliveryConfig controls how passcode mail leaves the request path.
type DeliveryConfig struct {
	// Async queues mail for a worker pool. When false, the request waits on
	// the sender and surfaces its error.
	Async       bool
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// TOTPConfig controls authenticator enrollment and verification.
type TOTPConfig struct {
	Issuer          string
	Period          uint
	Skew            uint
	BackupCodeCount int
	QRSize          int
}

// SecondFactorConfig bounds the challenge between the password step and the
// second-factor step.
type SecondFactorConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// TrustedDeviceConfig controls the signed tokens that let a device skip the
// second factor.
type TrustedDeviceConfig struct {
	Enabled    bool
	SigningKey []byte `yaml:"-" toml:"-"`
	TTL        time.Duration
}

// JWTConfig controls the access tokens issued after a completed login.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string
	PrivateKey    []byte `yaml:"-" toml:"-"`
	PublicKey     []byte `yaml:"-" toml:"-"`
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig holds Argon2id parameters and password length policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
	MaxLength   int
	// UpgradeOnLogin rehashes digests made with weaker parameters after a
	// successful password check.
	UpgradeOnLogin bool
}

// BreachConfig controls the k-anonymity breach corpus lookup.
type BreachConfig struct {
	Enabled           bool
	Endpoint          string
	Timeout           time.Duration
	CacheSize         int
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Burst             int
}

// CryptoConfig holds the key used to seal client payloads.
type CryptoConfig struct {
	// PrivateKey is a base64url X25519 key. Empty selects the built-in
	// development keypair, which ProductionMode rejects.
	PrivateKey string `yaml:"-" toml:"-"`
}

// AuditConfig controls audit dispatch. With Async set, entries are queued for
// a background writer and DropIfFull decides what a full queue does.
type AuditConfig struct {
	Async        bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// SecurityConfig holds deployment-wide security switches.
type SecurityConfig struct {
	ProductionMode bool
	// AdminRole is the single privileged role allowed to unlock accounts.
	AdminRole string
}

// DefaultConfig returns a development-ready configuration. Signing keys must
// still be supplied.
func DefaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			Tiers: []RateLimitTier{
				{Failures: 5, Block: 60 * time.Second},
				{Failures: 6, Block: 120 * time.Second},
				{Failures: 7, Block: 180 * time.Second},
				{Failures: 8, Block: 240 * time.Second},
				{Failures: 9, Block: 300 * time.Second},
			},
			Window:    15 * time.Minute,
			KeyPrefix: "grl",
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 20,
			Window:    24 * time.Hour,
			Duration:  30 * time.Minute,
		},
		OTP: OTPConfig{
			Digits:           6,
			TTL:              10 * time.Minute,
			ResponseFloor:    50 * time.Millisecond,
			SendWindow:       time.Hour,
			MaxSendsPerEmail: 5,
			MaxSendsPerIP:    20,
		},
		Delivery: DeliveryConfig{
			Async:       true,
			BufferSize:  256,
			Workers:     4,
			SendTimeout: 10 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:          "goGuard",
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
			QRSize:          200,
		},
		SecondFactor: SecondFactorConfig{
			ChallengeTTL: 10 * time.Minute,
			MaxAttempts:  5,
		},
		TrustedDevice: TrustedDeviceConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "goguard",
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      256,
			UpgradeOnLogin: true,
		},
		Breach: BreachConfig{
			Enabled:           true,
			Timeout:           3 * time.Second,
			CacheSize:         2048,
			CacheTTL:          time.Hour,
			RequestsPerSecond: 20,
			Burst:             10,
		},
		Audit: AuditConfig{
			Async:        true,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			AdminRole: "admin",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.RateLimit.Tiers = append([]RateLimitTier(nil), cfg.RateLimit.Tiers...)
	out.TrustedDevice.SigningKey = cloneBytes(cfg.TrustedDevice.SigningKey)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Rate limit
	if len(c.RateLimit.Tiers) == 0 {
		return errors.New("RateLimit Tiers must not be empty")
	}
	for i, tier := range c.RateLimit.Tiers {
		if tier.Failures <= 0 || tier.Block <= 0 {
			return fmt.Errorf("RateLimit tier %d must have Failures > 0 and Block > 0", i)
		}
		if i > 0 {
			prev := c.RateLimit.Tiers[i-1]
			if tier.Failures <= prev.Failures || tier.Block <= prev.Block {
				return fmt.Errorf("RateLimit tier %d must be strictly greater than tier %d", i, i-1)
			}
		}
	}
	if c.RateLimit.Window < 0 {
		return errors.New("RateLimit Window must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= c.RateLimit.Tiers[0].Failures {
			return errors.New("Lockout Threshold must exceed the first rate limit tier")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// OTP / TOTP / second factor
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 || c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be in (0, 1h]")
	}
	if c.OTP.ResponseFloor < 0 || c.OTP.ResponseFloor > 5*time.Second {
		return errors.New("OTP ResponseFloor must be in [0, 5s]")
	}
	if c.OTP.MaxSendsPerEmail < 0 || c.OTP.MaxSendsPerIP < 0 {
		return errors.New("OTP MaxSendsPerEmail and MaxSendsPerIP must be >= 0")
	}
	if (c.OTP.MaxSendsPerEmail > 0 || c.OTP.MaxSendsPerIP > 0) && c.OTP.SendWindow <= 0 {
		return errors.New("OTP SendWindow must be > 0 when a send limit is set")
	}
	if c.Delivery.Async && (c.Delivery.BufferSize <= 0 || c.Delivery.Workers <= 0) {
		return errors.New("Delivery BufferSize and Workers must be > 0 when Async is true")
	}
	if c.TOTP.Period == 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be <= 2")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeCount > 32 {
		return errors.New("TOTP BackupCodeCount must be in [1, 32]")
	}
	if c.SecondFactor.ChallengeTTL <= 0 {
		return errors.New("SecondFactor ChallengeTTL must be > 0")
	}
	if c.SecondFactor.MaxAttempts <= 0 {
		return errors.New("SecondFactor MaxAttempts must be > 0")
	}

	// Trusted devices
	if c.TrustedDevice.Enabled {
		if len(c.TrustedDevice.SigningKey) < 32 {
			return errors.New("TrustedDevice SigningKey must be at least 32 bytes")
		}
		if c.TrustedDevice.TTL <= 0 {
			return errors.New("TrustedDevice TTL must be > 0")
		}
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Breach
	if c.Breach.Enabled && (c.Breach.Timeout <= 0 || c.Breach.Timeout > 10*time.Second) {
		return errors.New("Breach Timeout must be in (0, 10s]")
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is true")
	}

	// Security
	if c.Security.ProductionMode && c.Crypto.PrivateKey == "" {
		return errors.New("Crypto PrivateKey is required in ProductionMode")
	}
	if c.Security.AdminRole == "" {
		return errors.New("Security AdminRole must not be empty")
	}

	return nil
}
