package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Logins that reached Authenticated."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Password steps rejected as invalid credentials."},
	{ID: goGuard.MetricLoginRateLimited, Name: "goguard_login_rate_limited_total", Help: "Attempts rejected by the rate limiter."},
	{ID: goGuard.MetricLoginLockedOut, Name: "goguard_login_locked_out_total", Help: "Attempts rejected because the account is locked."},
	{ID: goGuard.MetricAccountLocked, Name: "goguard_account_locked_total", Help: "Lockout escalations."},
	{ID: goGuard.MetricAccountUnlocked, Name: "goguard_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: goGuard.MetricSecondFactorRequired, Name: "goguard_second_factor_required_total", Help: "Password steps that required a second factor."},
	{ID: goGuard.MetricSecondFactorSuccess, Name: "goguard_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: goGuard.MetricSecondFactorFailure, Name: "goguard_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: goGuard.MetricTrustedDeviceAccepted, Name: "goguard_trusted_device_accepted_total", Help: "Logins that skipped the second factor via a trusted device."},
	{ID: goGuard.MetricTrustedDeviceIssued, Name: "goguard_trusted_device_issued_total", Help: "Trusted-device tokens issued."},
	{ID: goGuard.MetricTrustedDeviceRevoked, Name: "goguard_trusted_device_revoked_total", Help: "Trusted-device records revoked."},
	{ID: goGuard.MetricBackupCodeUsed, Name: "goguard_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goGuard.MetricOTPIssued, Name: "goguard_otp_issued_total", Help: "One-time passcodes issued."},
	{ID: goGuard.MetricOTPVerifyFailure, Name: "goguard_otp_verify_failure_total", Help: "Failed one-time passcode verifications."},
	{ID: goGuard.MetricTOTPEnabled, Name: "goguard_totp_enabled_total", Help: "TOTP enrollments confirmed."},
	{ID: goGuard.MetricTOTPDisabled, Name: "goguard_totp_disabled_total", Help: "TOTP disable operations."},
	{ID: goGuard.MetricPasswordChanged, Name: "goguard_password_changed_total", Help: "Authenticated password changes."},
	{ID: goGuard.MetricPasswordResetRequest, Name: "goguard_password_reset_request_total", Help: "Password reset requests."},
	{ID: goGuard.MetricPasswordResetSuccess, Name: "goguard_password_reset_success_total", Help: "Completed password resets."},
	{ID: goGuard.MetricPasswordBreachRejected, Name: "goguard_password_breach_rejected_total", Help: "New passwords rejected as breached."},
	{ID: goGuard.MetricOTPSendLimited, Name: "goguard_otp_send_limited_total", Help: "Passcode requests refused by the dispatch limiter."},
	{ID: goGuard.MetricOTPDeliveryFailed, Name: "goguard_otp_delivery_failed_total", Help: "Passcodes that could not be handed to the mail relay."},
	{ID: goGuard.MetricTOTPReplayRejected, Name: "goguard_totp_replay_rejected_total", Help: "Authenticator codes rejected as already used."},
	{ID: goGuard.MetricBackupCodesRegenerated, Name: "goguard_backup_codes_regenerated_total", Help: "Backup code sets replaced."},
	{ID: goGuard.MetricLimiterUnavailable, Name: "goguard_limiter_unavailable_total", Help: "Rate limiter store errors."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricLoginLatency, Name: "goguard_login_latency_seconds", Help: "Password step latency."},
}

var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
