package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarizes the abuse-mitigation posture of a running engine.
type Report struct {
	ProductionMode        bool
	DevelopmentKeypair    bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	Argon2                PasswordReport
	RateLimitTiers        int
	FirstBlock            time.Duration
	MaxBlock              time.Duration
	RateLimitFailOpen     bool
	LockoutActive         bool
	BreachCheckActive     bool
	TrustedDevicesEnabled bool
	TrustedDeviceTTL      time.Duration
	BackupCodeCount       int
	// Warnings lists configuration choices an operator should review.
	Warnings []string
}

type ReportInput struct {
	ProductionMode        bool
	DevelopmentKeypair    bool
	SigningAlgorithm      string
	AccessTTL             time.Duration
	Password              PasswordReport
	TierBlocks            []time.Duration
	RateLimitFailOpen     bool
	LockoutEnabled        bool
	LockoutThreshold      int
	BreachEnabled         bool
	TrustedDevicesEnabled bool
	TrustedDeviceTTL      time.Duration
	BackupCodeCount       int
}

func BuildReport(input ReportInput) Report {
	r := Report{
		ProductionMode:        input.ProductionMode,
		DevelopmentKeypair:    input.DevelopmentKeypair,
		SigningAlgorithm:      input.SigningAlgorithm,
		AccessTTL:             input.AccessTTL,
		Argon2:                input.Password,
		RateLimitTiers:        len(input.TierBlocks),
		RateLimitFailOpen:     input.RateLimitFailOpen,
		LockoutActive:         input.LockoutEnabled && input.LockoutThreshold > 0,
		BreachCheckActive:     input.BreachEnabled,
		TrustedDevicesEnabled: input.TrustedDevicesEnabled,
		TrustedDeviceTTL:      input.TrustedDeviceTTL,
		BackupCodeCount:       input.BackupCodeCount,
	}
	if n := len(input.TierBlocks); n > 0 {
		r.FirstBlock = input.TierBlocks[0]
		r.MaxBlock = input.TierBlocks[n-1]
	}

	if input.DevelopmentKeypair {
		r.Warnings = append(r.Warnings, "payload encryption uses the built-in development keypair")
	}
	if input.RateLimitFailOpen {
		r.Warnings = append(r.Warnings, "rate limiter admits attempts while its store is down")
	}
	if !r.LockoutActive {
		r.Warnings = append(r.Warnings, "account lockout escalation is disabled")
	}
	if !input.BreachEnabled {
		r.Warnings = append(r.Warnings, "breached password check is disabled")
	}
	if input.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "access tokens use a shared secret")
	}
	return r
}
