package goGuard

import (
	"time"

	"github.com/MrEthical07/goGuard/internal/security"
)

// SecurityReport is the posture summary returned by Engine.SecurityReport.
type SecurityReport = security.Report

// PasswordConfigReport describes the active hashing parameters.
type PasswordConfigReport = security.PasswordReport

// SecurityReport summarizes limiter, lockout, key and hashing posture, with
// warnings for choices an operator should review.
//
// The tier table is read back from the running limiter, so the report shows
// the blocks actually enforced. SecurityReport performs no I/O and is safe to
// call concurrently.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	var blocks []time.Duration
	if e.rateLimiter != nil {
		for _, tier := range e.rateLimiter.Tiers() {
			blocks = append(blocks, tier.Block)
		}
	}

	return security.BuildReport(security.ReportInput{
		ProductionMode:     e.config.Security.ProductionMode,
		DevelopmentKeypair: e.box != nil && e.box.IsDevelopment(),
		SigningAlgorithm:   e.config.JWT.SigningMethod,
		AccessTTL:          e.config.JWT.AccessTTL,
		Password: security.PasswordReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		TierBlocks:            blocks,
		RateLimitFailOpen:     e.config.RateLimit.FailOpen,
		LockoutEnabled:        e.config.Lockout.Enabled,
		LockoutThreshold:      e.config.Lockout.Threshold,
		BreachEnabled:         e.config.Breach.Enabled,
		TrustedDevicesEnabled: e.config.TrustedDevice.Enabled,
		TrustedDeviceTTL:      e.config.TrustedDevice.TTL,
		BackupCodeCount:       e.config.TOTP.BackupCodeCount,
	})
}
