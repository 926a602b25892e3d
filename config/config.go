package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	goGuard "github.com/MrEthical07/goGuard"
	"gopkg.in/yaml.v3"
)

var ErrUnsupportedFormat = errors.New("config: unsupported file extension")

// Duration decodes from strings in both YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	// TrustedProxies is passed to gin; empty trusts none.
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

type DatabaseConfig struct {
	DSN     string `yaml:"dsn" toml:"dsn"`
	Migrate bool   `yaml:"migrate" toml:"migrate"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	From     string `yaml:"from" toml:"from"`
	AppName  string `yaml:"app_name" toml:"app_name"`
}

// KeysConfig holds base64 key material. JWT and device keys use standard
// encoding; PayloadPrivateKey is base64url as produced by sealed.
type KeysConfig struct {
	JWTPrivateKey     string `yaml:"jwt_private_key" toml:"jwt_private_key"`
	JWTPublicKey      string `yaml:"jwt_public_key" toml:"jwt_public_key"`
	DeviceSigningKey  string `yaml:"device_signing_key" toml:"device_signing_key"`
	PayloadPrivateKey string `yaml:"payload_private_key" toml:"payload_private_key"`
}

type TierConfig struct {
	Failures int      `yaml:"failures" toml:"failures"`
	Block    Duration `yaml:"block" toml:"block"`
}

// AuthConfig overrides engine defaults. Zero values keep the default.
type AuthConfig struct {
	ProductionMode bool   `yaml:"production_mode" toml:"production_mode"`
	AdminRole      string `yaml:"admin_role" toml:"admin_role"`

	Tiers           []TierConfig `yaml:"tiers" toml:"tiers"`
	RateLimitWindow Duration     `yaml:"rate_limit_window" toml:"rate_limit_window"`
	FailOpen        bool         `yaml:"fail_open" toml:"fail_open"`

	LockoutDisabled  bool     `yaml:"lockout_disabled" toml:"lockout_disabled"`
	LockoutThreshold int      `yaml:"lockout_threshold" toml:"lockout_threshold"`
	LockoutDuration  Duration `yaml:"lockout_duration" toml:"lockout_duration"`

	OTPTTL           Duration `yaml:"otp_ttl" toml:"otp_ttl"`
	OTPResponseFloor Duration `yaml:"otp_response_floor" toml:"otp_response_floor"`
	MaxSendsPerEmail int      `yaml:"max_sends_per_email" toml:"max_sends_per_email"`
	MaxSendsPerIP    int      `yaml:"max_sends_per_ip" toml:"max_sends_per_ip"`
	// SyncDelivery makes passcode requests wait on the SMTP relay.
	SyncDelivery     bool     `yaml:"sync_delivery" toml:"sync_delivery"`
	AccessTTL        Duration `yaml:"access_ttl" toml:"access_ttl"`
	SigningMethod    string   `yaml:"signing_method" toml:"signing_method"`
	Issuer           string   `yaml:"issuer" toml:"issuer"`
	TrustedDeviceTTL Duration `yaml:"trusted_device_ttl" toml:"trusted_device_ttl"`
	// TrustedDevicesDisabled removes the need for keys.device_signing_key.
	TrustedDevicesDisabled bool   `yaml:"trusted_devices_disabled" toml:"trusted_devices_disabled"`
	TOTPIssuer             string `yaml:"totp_issuer" toml:"totp_issuer"`

	BreachDisabled bool   `yaml:"breach_disabled" toml:"breach_disabled"`
	BreachEndpoint string `yaml:"breach_endpoint" toml:"breach_endpoint"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format" toml:"format"`
}

// File is the on-disk server configuration.
type File struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	SMTP     SMTPConfig     `yaml:"smtp" toml:"smtp"`
	Keys     KeysConfig     `yaml:"keys" toml:"keys"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// Default returns the values used for anything a file leaves out.
func Default() *File {
	return &File{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{
			Migrate: true,
		},
		SMTP: SMTPConfig{Port: 587, AppName: "goGuard"},
		Log:  LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path on top of Default, applies environment overrides and
// validates the result.
func Load(path string) (*File, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets secrets stay out of the file:
//   - GOGUARD_DATABASE_DSN
//   - GOGUARD_REDIS_PASSWORD
//   - GOGUARD_SMTP_PASSWORD
//   - GOGUARD_JWT_PRIVATE_KEY, GOGUARD_JWT_PUBLIC_KEY
//   - GOGUARD_DEVICE_SIGNING_KEY
//   - GOGUARD_PAYLOAD_PRIVATE_KEY
func (f *File) ApplyEnvOverrides() {
	overrides := []struct {
		name   string
		target *string
	}{
		{"GOGUARD_DATABASE_DSN", &f.Database.DSN},
		{"GOGUARD_REDIS_PASSWORD", &f.Redis.Password},
		{"GOGUARD_SMTP_PASSWORD", &f.SMTP.Password},
		{"GOGUARD_JWT_PRIVATE_KEY", &f.Keys.JWTPrivateKey},
		{"GOGUARD_JWT_PUBLIC_KEY", &f.Keys.JWTPublicKey},
		{"GOGUARD_DEVICE_SIGNING_KEY", &f.Keys.DeviceSigningKey},
		{"GOGUARD_PAYLOAD_PRIVATE_KEY", &f.Keys.PayloadPrivateKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.name); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the server-level fields. Engine fields are checked by
// EngineConfig through goGuard.Config.Validate.
func (f *File) Validate() error {
	if f.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if f.Redis.Addr == "" {
		return errors.New("config: redis.addr is required")
	}
	if f.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	if f.SMTP.Host == "" || f.SMTP.From == "" {
		return errors.New("config: smtp.host and smtp.from are required")
	}
	switch f.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q must be json or text", f.Log.Format)
	}
	return nil
}

// EngineConfig maps f onto goGuard.DefaultConfig and validates it.
func (f *File) EngineConfig() (goGuard.Config, error) {
	cfg := goGuard.DefaultConfig()
	a := f.Auth

	cfg.Security.ProductionMode = a.ProductionMode
	if a.AdminRole != "" {
		cfg.Security.AdminRole = a.AdminRole
	}

	if len(a.Tiers) > 0 {
		cfg.RateLimit.Tiers = make([]goGuard.RateLimitTier, 0, len(a.Tiers))
		for _, t := range a.Tiers {
			cfg.RateLimit.Tiers = append(cfg.RateLimit.Tiers, goGuard.RateLimitTier{Failures: t.Failures, Block: t.Block.Duration})
		}
	}
	setDuration(&cfg.RateLimit.Window, a.RateLimitWindow)
	cfg.RateLimit.FailOpen = a.FailOpen

	cfg.Lockout.Enabled = !a.LockoutDisabled
	if a.LockoutThreshold > 0 {
		cfg.Lockout.Threshold = a.LockoutThreshold
	}
	setDuration(&cfg.Lockout.Duration, a.LockoutDuration)

	setDuration(&cfg.OTP.TTL, a.OTPTTL)
	setDuration(&cfg.OTP.ResponseFloor, a.OTPResponseFloor)
	if a.MaxSendsPerEmail > 0 {
		cfg.OTP.MaxSendsPerEmail = a.MaxSendsPerEmail
	}
	if a.MaxSendsPerIP > 0 {
		cfg.OTP.MaxSendsPerIP = a.MaxSendsPerIP
	}
	cfg.Delivery.Async = !a.SyncDelivery
	setDuration(&cfg.JWT.AccessTTL, a.AccessTTL)
	setDuration(&cfg.TrustedDevice.TTL, a.TrustedDeviceTTL)
	cfg.TrustedDevice.Enabled = !a.TrustedDevicesDisabled
	if a.SigningMethod != "" {
		cfg.JWT.SigningMethod = a.SigningMethod
	}
	if a.Issuer != "" {
		cfg.JWT.Issuer = a.Issuer
	}
	if a.TOTPIssuer != "" {
		cfg.TOTP.Issuer = a.TOTPIssuer
	}

	cfg.Breach.Enabled = !a.BreachDisabled
	if a.BreachEndpoint != "" {
		cfg.Breach.Endpoint = a.BreachEndpoint
	}

	var err error
	if cfg.JWT.PrivateKey, err = decodeKey("keys.jwt_private_key", f.Keys.JWTPrivateKey); err != nil {
		return goGuard.Config{}, err
	}
	if cfg.JWT.PublicKey, err = decodeKey("keys.jwt_public_key", f.Keys.JWTPublicKey); err != nil {
		return goGuard.Config{}, err
	}
	if cfg.TrustedDevice.SigningKey, err = decodeKey("keys.device_signing_key", f.Keys.DeviceSigningKey); err != nil {
		return goGuard.Config{}, err
	}
	cfg.Crypto.PrivateKey = strings.TrimSpace(f.Keys.PayloadPrivateKey)

	if err := cfg.Validate(); err != nil {
		return goGuard.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func setDuration(dst *time.Duration, d Duration) {
	if d.Duration > 0 {
		*dst = d.Duration
	}
}

func decodeKey(field, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not valid base64: %w", field, err)
	}
	return b, nil
}
