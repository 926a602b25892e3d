package goGuard

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goGuard/breach"
	"github.com/MrEthical07/goGuard/devicetoken"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/delivery"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/otp"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/internal/totp"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/sealed"
	"github.com/redis/go-redis/v9"
)

// Builder collects collaborators and configuration for an Engine.
//
// A Builder is single-use: Build may succeed at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	accounts   AccountStore
	otpSender  OTPSender
	auditSink  AuditSink
	logger     *slog.Logger
	httpClient *http.Client

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is cloned, so later edits
// by the caller do not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the store for rate limit counters, lockout counters, login
// challenges and trusted-device records. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the account persistence boundary. Required.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithOTPSender sets the out-of-band passcode transport. Required.
func (b *Builder) WithOTPSender(sender OTPSender) *Builder {
	b.otpSender = sender
	return b
}

// WithAuditSink sets where audit entries go. Without one, auditing is a no-op.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithHTTPClient sets the client used for breach corpus queries.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}
	if b.otpSender == nil {
		return nil, errors.New("otp sender required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "goguard")

	engine := &Engine{
		config:   cfg,
		accounts: b.accounts,
		logger:   logger,
		now:      time.Now,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- LIMITERS --------
	tiers := make([]rate.Tier, 0, len(cfg.RateLimit.Tiers))
	for _, tier := range cfg.RateLimit.Tiers {
		tiers = append(tiers, rate.Tier{Failures: tier.Failures, Block: tier.Block})
	}
	limiter, err := rate.New(b.redis, rate.Config{
		Tiers:     tiers,
		Window:    cfg.RateLimit.Window,
		KeyPrefix: cfg.RateLimit.KeyPrefix,
		FailOpen:  cfg.RateLimit.FailOpen,
	})
	if err != nil {
		return nil, err
	}
	engine.rateLimiter = limiter
	engine.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		Duration:  cfg.Lockout.Duration,
	})
	engine.sends = limiters.NewSendLimiter(b.redis, limiters.SendConfig{
		Enabled:     cfg.OTP.MaxSendsPerEmail > 0 || cfg.OTP.MaxSendsPerIP > 0,
		MaxPerEmail: cfg.OTP.MaxSendsPerEmail,
		MaxPerIP:    cfg.OTP.MaxSendsPerIP,
		Window:      cfg.OTP.SendWindow,
	})

	// -------- STORES --------
	engine.challenges = stores.NewLoginChallengeStore(b.redis, "", engine.clock)
	engine.devices = stores.NewTrustedDeviceStore(b.redis, "")

	// -------- SECOND FACTORS --------
	engine.otp, err = otp.NewManager(cfg.OTP.Digits, cfg.OTP.TTL, engine.clock)
	if err != nil {
		return nil, err
	}
	engine.totp = totp.NewManager(totp.Config{
		Issuer: cfg.TOTP.Issuer,
		Period: cfg.TOTP.Period,
		Skew:   cfg.TOTP.Skew,
		QRSize: cfg.TOTP.QRSize,
	}, engine.clock)

	engine.delivery = delivery.NewDispatcher(delivery.Config{
		Async:       cfg.Delivery.Async,
		BufferSize:  cfg.Delivery.BufferSize,
		Workers:     cfg.Delivery.Workers,
		SendTimeout: cfg.Delivery.SendTimeout,
	}, b.otpSender.SendOTPEmail, logger)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.TrustedDevice.Enabled {
		engine.deviceTokens, err = devicetoken.New(cloneBytes(cfg.TrustedDevice.SigningKey), cfg.TrustedDevice.TTL, cfg.JWT.Issuer)
		if err != nil {
			return nil, err
		}
	}

	// -------- CRYPTO --------
	engine.box, err = sealed.Load(cfg.Crypto.PrivateKey, cfg.Security.ProductionMode, logger)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	engine.passwordHash, err = password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.policy = password.Policy{
		MinLength: cfg.Password.MinLength,
		MaxLength: cfg.Password.MaxLength,
	}
	if cfg.Breach.Enabled {
		engine.breach = breach.New(breach.Config{
			Endpoint:          cfg.Breach.Endpoint,
			Timeout:           cfg.Breach.Timeout,
			CacheSize:         cfg.Breach.CacheSize,
			CacheTTL:          cfg.Breach.CacheTTL,
			RequestsPerSecond: cfg.Breach.RequestsPerSecond,
			Burst:             cfg.Breach.Burst,
		}, b.httpClient, logger)
	}

	// -------- AUDIT --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:      cfg.Audit.Async,
		BufferSize:   cfg.Audit.BufferSize,
		DropIfFull:   cfg.Audit.DropIfFull,
		WriteTimeout: cfg.Audit.WriteTimeout,
	}, b.auditSink, logger, engine.clock)

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
