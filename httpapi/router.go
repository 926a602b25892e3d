package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/gin-gonic/gin"
)

// Service is the engine surface the router needs. *goGuard.Engine satisfies it.
type Service interface {
	middleware.TokenValidator

	Login(ctx context.Context, req goGuard.LoginRequest) (*goGuard.LoginResult, error)
	CompleteLogin(ctx context.Context, req goGuard.SecondFactorRequest) (*goGuard.LoginResult, error)
	CheckRateLimit(ctx context.Context, email string) (goGuard.RateLimitStatus, error)

	RequestOTP(ctx context.Context, email string, purpose goGuard.OTPPurpose) error
	VerifyOTP(ctx context.Context, email, code string, purpose goGuard.OTPPurpose) error

	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error
	ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error

	BeginTOTPSetup(ctx context.Context, email string) (*goGuard.TOTPSetup, error)
	ConfirmTOTPSetup(ctx context.Context, email, code string) ([]string, error)
	DisableTOTP(ctx context.Context, email string) error
	RegenerateBackupCodes(ctx context.Context, email, code string) ([]string, error)

	RevokeTrustedDevice(ctx context.Context, actorEmail, tokenID string) error
	RevokeAllTrustedDevices(ctx context.Context, email string) (int, error)
	UnlockAccount(ctx context.Context, actor *goGuard.SessionClaims, email string) error

	PublicKey() string
	Decrypt(ciphertext string) ([]byte, error)
}

// Options configures New.
type Options struct {
	// AdminRole guards /admin routes.
	AdminRole string
	// TrustedProxies is passed to gin; nil trusts no forwarding headers.
	TrustedProxies []string
	Logger         *slog.Logger
	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

type handler struct {
	svc    Service
	logger *slog.Logger
}

// New builds the router.
func New(svc Service, opts Options) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AdminRole == "" {
		opts.AdminRole = goGuard.DefaultConfig().Security.AdminRole
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery(), requestLogger(logger), middleware.GinClientIP())

	h := &handler{svc: svc, logger: logger}

	auth := r.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/login/verify", h.completeLogin)
	auth.GET("/rate-limit", h.rateLimit)
	auth.POST("/otp", h.requestOTP)
	auth.POST("/otp/verify", h.verifyOTP)
	auth.POST("/password/reset", h.requestPasswordReset)
	auth.POST("/password/reset/confirm", h.confirmPasswordReset)
	auth.GET("/public-key", h.publicKey)

	session := auth.Group("", middleware.RequireSession(svc))
	session.POST("/password/change", h.changePassword)
	session.POST("/totp/setup", h.beginTOTPSetup)
	session.POST("/totp/enable", h.confirmTOTPSetup)
	session.POST("/totp/disable", h.disableTOTP)
	session.POST("/totp/backup-codes", h.regenerateBackupCodes)
	session.DELETE("/devices/:id", h.revokeDevice)
	session.DELETE("/devices", h.revokeAllDevices)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	admin := r.Group("/admin", middleware.RequireSession(svc), middleware.RequireRole(opts.AdminRole))
	admin.POST("/accounts/unlock", h.unlockAccount)

	return r, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)),
		)
	}
}
