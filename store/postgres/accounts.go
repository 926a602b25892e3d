package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// AccountStore implements goGuard.AccountStore.
type AccountStore struct {
	db *sql.DB
}

var _ goGuard.AccountStore = (*AccountStore)(nil)

// NewAccountStore expects the schema in migrations/ to be applied.
func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

// CreateAccount inserts an active account. passwordHash must come from
// Engine.HashPassword.
func (s *AccountStore) CreateAccount(ctx context.Context, email, passwordHash, role string) error {
	query :=
		`INSERT INTO accounts (email, password_hash, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (email) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, email, passwordHash, role); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// SetActive enables or disables an account.
func (s *AccountStore) SetActive(ctx context.Context, email string, active bool) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET active = $2, updated_at = now() WHERE email = $1`,
		email, active)
}

// GetAccountByEmail loads the account row and folds the TOTP columns into a
// single TOTPState. Enabled wins over a stray pending secret. A stored
// passcode is returned only when its hash and expiry are both present.
// Missing rows report goGuard.ErrAccountNotFound.
func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*goGuard.Account, error) {
	query :=
		`SELECT email, password_hash, role, active, totp_enabled, totp_secret, totp_pending_secret,
		        lockout_until, otp_hash, otp_expires_at, otp_purpose
		 FROM accounts
		 WHERE email = $1`

	var (
		acct         goGuard.Account
		totpEnabled  bool
		totpSecret   sql.NullString
		totpPending  sql.NullString
		lockoutUntil sql.NullTime
		otpHash      []byte
		otpExpiresAt sql.NullTime
		otpPurpose   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&acct.Email, &acct.PasswordHash, &acct.Role, &acct.Active,
		&totpEnabled, &totpSecret, &totpPending,
		&lockoutUntil, &otpHash, &otpExpiresAt, &otpPurpose,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goGuard.ErrAccountNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	switch {
	case totpEnabled && totpSecret.Valid:
		acct.TOTP = goGuard.TOTPEnabledWith(totpSecret.String)
	case totpPending.Valid:
		acct.TOTP = goGuard.TOTPPendingWith(totpPending.String)
	default:
		acct.TOTP = goGuard.TOTPOff()
	}
	if lockoutUntil.Valid {
		acct.LockoutUntil = lockoutUntil.Time
	}
	if len(otpHash) == 32 && otpExpiresAt.Valid {
		c := &goGuard.OTPChallenge{
			ExpiresAt: otpExpiresAt.Time,
			Purpose:   goGuard.OTPPurpose(otpPurpose.String),
		}
		copy(c.Hash[:], otpHash)
		acct.OTP = c
	}
	return &acct, nil
}

// UpdatePasswordHash stores a new Argon2id digest.
func (s *AccountStore) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE email = $1`,
		email, hash)
}

// SaveOTPChallenge overwrites any outstanding passcode for email. Only the
// hash is stored.
func (s *AccountStore) SaveOTPChallenge(ctx context.Context, email string, c goGuard.OTPChallenge) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET otp_hash = $2, otp_expires_at = $3, otp_purpose = $4, updated_at = now() WHERE email = $1`,
		email, c.Hash[:], c.ExpiresAt.UTC(), string(c.Purpose))
}

// ClearOTPChallenge removes the outstanding passcode, if any.
func (s *AccountStore) ClearOTPChallenge(ctx context.Context, email string) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET otp_hash = NULL, otp_expires_at = NULL, otp_purpose = NULL, updated_at = now() WHERE email = $1`,
		email)
}

// SetLockout persists a lock that lasts until the given instant, stored in UTC.
func (s *AccountStore) SetLockout(ctx context.Context, email string, until time.Time) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET lockout_until = $2, updated_at = now() WHERE email = $1`,
		email, until.UTC())
}

// ClearLockout lifts a persisted lock.
func (s *AccountStore) ClearLockout(ctx context.Context, email string) error {
	return execOne(ctx, s.db,
		`UPDATE accounts SET lockout_until = NULL, updated_at = now() WHERE email = $1`,
		email)
}

// SetTOTPPending leaves an enabled secret untouched.
func (s *AccountStore) SetTOTPPending(ctx context.Context, email, secret string) error {
	return execOne(ctx, s.db,
		`UPDATE accounts
		 SET totp_pending_secret = CASE WHEN totp_enabled THEN NULL ELSE $2 END, updated_at = now()
		 WHERE email = $1`,
		email, secret)
}

// EnableTOTP promotes secret and replaces the backup code set in one
// transaction. The last accepted time step is kept.
func (s *AccountStore) EnableTOTP(ctx context.Context, email, secret string, backupCodeHashes [][32]byte) error {
	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if err := execOne(ctx, tx,
			`UPDATE accounts
			 SET totp_enabled = TRUE, totp_secret = $2, totp_pending_secret = NULL, updated_at = now()
			 WHERE email = $1`,
			email, secret); err != nil {
			return err
		}
		return replaceBackupCodes(ctx, tx, email, backupCodeHashes)
	})
}

// ReplaceBackupCodes swaps the backup code set. Accounts without enabled TOTP
// report goGuard.ErrAccountNotFound.
func (s *AccountStore) ReplaceBackupCodes(ctx context.Context, email string, backupCodeHashes [][32]byte) error {
	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if err := execOne(ctx, tx,
			`UPDATE accounts SET updated_at = now() WHERE email = $1 AND totp_enabled`,
			email); err != nil {
			return err
		}
		return replaceBackupCodes(ctx, tx, email, backupCodeHashes)
	})
}

func replaceBackupCodes(ctx context.Context, tx DBTX, email string, hashes [][32]byte) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE email = $1`, email); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backup_codes (email, code_hash) VALUES ($1, $2)`,
			email, h[:]); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// RecordTOTPCounter is a conditional UPDATE, so the row lock serializes
// concurrent uses of one code. Zero affected rows means the step was already
// used or the account does not exist; both read as not advanced.
func (s *AccountStore) RecordTOTPCounter(ctx context.Context, email string, counter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET totp_last_counter = $2, updated_at = now()
		 WHERE email = $1 AND totp_last_counter < $2`,
		email, counter)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// DisableTOTP drops both secrets and every backup code in one transaction.
// The last accepted time step is kept.
func (s *AccountStore) DisableTOTP(ctx context.Context, email string) error {
	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if err := execOne(ctx, tx,
			`UPDATE accounts
			 SET totp_enabled = FALSE, totp_secret = NULL, totp_pending_secret = NULL, updated_at = now()
			 WHERE email = $1`,
			email); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE email = $1`, email); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

// ConsumeBackupCode deletes the matching code. The DELETE is the check, so
// two concurrent uses of one code cannot both succeed.
func (s *AccountStore) ConsumeBackupCode(ctx context.Context, email string, hash [32]byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE email = $1 AND code_hash = $2`,
		email, hash[:])
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// execOne runs an UPDATE keyed by email and maps zero affected rows to
// goGuard.ErrAccountNotFound.
func execOne(ctx context.Context, db DBTX, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return goGuard.ErrAccountNotFound
	}
	return nil
}
