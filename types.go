package goGuard

import (
	"context"
	"strings"
	"time"
)

// TOTPStatus is the tag of a TOTPState.
type TOTPStatus uint8

const (
	TOTPDisabled TOTPStatus = iota
	TOTPPending
	TOTPEnabled
)

// String returns "disabled", "pending" or "enabled".
func (s TOTPStatus) String() string {
	switch s {
	case TOTPPending:
		return "pending"
	case TOTPEnabled:
		return "enabled"
	default:
		return "disabled"
	}
}

// TOTPState is the second-factor lifecycle of an account. A pending secret and
// an enabled secret cannot coexist: the state holds exactly one of them.
type TOTPState struct {
	status TOTPStatus
	secret string
}

// TOTPOff returns the Disabled state.
func TOTPOff() TOTPState { return TOTPState{} }

// TOTPPendingWith returns Pending(secret).
func TOTPPendingWith(secret string) TOTPState {
	return TOTPState{status: TOTPPending, secret: secret}
}

// TOTPEnabledWith returns Enabled(secret).
func TOTPEnabledWith(secret string) TOTPState {
	return TOTPState{status: TOTPEnabled, secret: secret}
}

// Status reports which lifecycle stage the state is in.
func (s TOTPState) Status() TOTPStatus { return s.status }

// PendingSecret returns the secret awaiting confirmation, if any.
func (s TOTPState) PendingSecret() (string, bool) {
	return s.secret, s.status == TOTPPending
}

// EnabledSecret returns the active secret, if any.
func (s TOTPState) EnabledSecret() (string, bool) {
	return s.secret, s.status == TOTPEnabled
}

// OTPPurpose scopes a passcode to the flow that requested it.
type OTPPurpose string

const (
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// OTPChallenge is the stored half of an emailed passcode.
type OTPChallenge struct {
	Hash      [32]byte
	ExpiresAt time.Time
	Purpose   OTPPurpose
}

// Account is the identity record the engine reads and mutates through AccountStore.
type Account struct {
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	TOTP         TOTPState
	// LockoutUntil is zero when the account is not locked.
	LockoutUntil time.Time
	// OTP is nil when no challenge is outstanding.
	OTP *OTPChallenge
}

// LockedAt reports whether the account is locked at now.
func (a *Account) LockedAt(now time.Time) bool {
	return !a.LockoutUntil.IsZero() && now.Before(a.LockoutUntil)
}

// AccountStore is the persistence boundary. Each method is a single,
// independently idempotent read-modify-write. Emails arrive normalized.
type AccountStore interface {
	// GetAccountByEmail returns ErrAccountNotFound for unknown emails.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, email, hash string) error

	// SaveOTPChallenge overwrites any outstanding challenge.
	SaveOTPChallenge(ctx context.Context, email string, challenge OTPChallenge) error
	ClearOTPChallenge(ctx context.Context, email string) error

	SetLockout(ctx context.Context, email string, until time.Time) error
	ClearLockout(ctx context.Context, email string) error

	// SetTOTPPending stores a pending secret without touching an enabled one.
	SetTOTPPending(ctx context.Context, email, secret string) error
	// EnableTOTP atomically promotes secret to enabled, clears the pending
	// secret and replaces the backup code set.
	EnableTOTP(ctx context.Context, email, secret string, backupCodeHashes [][32]byte) error
	// DisableTOTP clears every TOTP field and backup code. Idempotent.
	DisableTOTP(ctx context.Context, email string) error
	// ConsumeBackupCode removes the code and reports whether it existed.
	ConsumeBackupCode(ctx context.Context, email string, hash [32]byte) (bool, error)
	// ReplaceBackupCodes swaps the backup code set of an account whose TOTP is
	// enabled. It returns ErrAccountNotFound when there is no such account.
	ReplaceBackupCodes(ctx context.Context, email string, backupCodeHashes [][32]byte) error
	// RecordTOTPCounter stores counter as the last accepted authenticator time
	// step if it is greater than the stored one, and reports whether it was.
	// It must be a single compare-and-set so two concurrent uses of one code
	// cannot both succeed.
	RecordTOTPCounter(ctx context.Context, email string, counter int64) (bool, error)
}

// OTPSender delivers passcodes out of band.
type OTPSender interface {
	SendOTPEmail(ctx context.Context, email, code, purpose string) error
}

// LoginRequest is the first login step.
type LoginRequest struct {
	Email       string
	Password    string
	DeviceToken string
}

// SecondFactorMethod names how a second factor is proven.
type SecondFactorMethod string

const (
	MethodOTP        SecondFactorMethod = "otp"
	MethodTOTP       SecondFactorMethod = "totp"
	MethodBackupCode SecondFactorMethod = "backup_code"
)

// LoginStatus is the non-error outcome of a login step.
type LoginStatus string

const (
	LoginAuthenticated        LoginStatus = "authenticated"
	LoginSecondFactorRequired LoginStatus = "second_factor_required"
)

// LoginResult describes a successful login step.
type LoginResult struct {
	Status LoginStatus
	Email  string

	// Set when Status is LoginAuthenticated.
	Role        string
	AccessToken string
	ExpiresAt   time.Time
	// DeviceToken is set when a trusted device was requested and issued.
	DeviceToken string

	// Set when Status is LoginSecondFactorRequired.
	Method      SecondFactorMethod
	ChallengeID string
}

// SecondFactorRequest completes a login challenge.
type SecondFactorRequest struct {
	ChallengeID string
	Code        string
	Method      SecondFactorMethod
	TrustDevice bool
}

// RateLimitStatus is the client-facing "may I try now" answer.
type RateLimitStatus struct {
	Blocked          bool   `json:"blocked"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Reason           string `json:"reason,omitempty"`
}

// TOTPSetup is returned by BeginTOTPSetup.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qr_code"`
}

// SessionClaims is the verified content of an access token.
type SessionClaims struct {
	Email     string
	Role      string
	ExpiresAt time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
