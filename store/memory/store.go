// Package memory is an in-process goGuard.AccountStore for demos, load runs
// and tests. State is lost on exit.
package memory

import (
	"context"
	"sync"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// Store keeps accounts in a map guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*goGuard.Account
	backups  map[string]map[[32]byte]struct{}
	counters map[string]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: map[string]*goGuard.Account{},
		backups:  map[string]map[[32]byte]struct{}{},
		counters: map[string]int64{},
	}
}

// Put inserts or replaces an account. Email must already be normalized.
func (s *Store) Put(a goGuard.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.Email] = &a
}

// BackupCodes returns how many unused backup codes email has.
func (s *Store) BackupCodes(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backups[email])
}

func (s *Store) update(email string, fn func(a *goGuard.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return goGuard.ErrAccountNotFound
	}
	fn(a)
	return nil
}

// GetAccountByEmail returns a copy, so callers cannot mutate stored state.
func (s *Store) GetAccountByEmail(_ context.Context, email string) (*goGuard.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil, goGuard.ErrAccountNotFound
	}
	cp := *a
	if a.OTP != nil {
		otp := *a.OTP
		cp.OTP = &otp
	}
	return &cp, nil
}

// UpdatePasswordHash stores a new digest.
func (s *Store) UpdatePasswordHash(_ context.Context, email, hash string) error {
	return s.update(email, func(a *goGuard.Account) { a.PasswordHash = hash })
}

// SaveOTPChallenge replaces the outstanding passcode.
func (s *Store) SaveOTPChallenge(_ context.Context, email string, c goGuard.OTPChallenge) error {
	return s.update(email, func(a *goGuard.Account) { a.OTP = &c })
}

// ClearOTPChallenge removes the outstanding passcode.
func (s *Store) ClearOTPChallenge(_ context.Context, email string) error {
	return s.update(email, func(a *goGuard.Account) { a.OTP = nil })
}

// SetLockout locks email until the given instant.
func (s *Store) SetLockout(_ context.Context, email string, until time.Time) error {
	return s.update(email, func(a *goGuard.Account) { a.LockoutUntil = until })
}

// ClearLockout lifts a lock.
func (s *Store) ClearLockout(_ context.Context, email string) error {
	return s.update(email, func(a *goGuard.Account) { a.LockoutUntil = time.Time{} })
}

// SetTOTPPending leaves an enabled secret untouched.
func (s *Store) SetTOTPPending(_ context.Context, email, secret string) error {
	return s.update(email, func(a *goGuard.Account) {
		if a.TOTP.Status() != goGuard.TOTPEnabled {
			a.TOTP = goGuard.TOTPPendingWith(secret)
		}
	})
}

// EnableTOTP promotes secret and replaces the backup code set.
func (s *Store) EnableTOTP(_ context.Context, email, secret string, hashes [][32]byte) error {
	return s.update(email, func(a *goGuard.Account) {
		a.TOTP = goGuard.TOTPEnabledWith(secret)
		s.backups[email] = backupSet(hashes)
	})
}

// DisableTOTP clears the secret and the backup codes. The last accepted time
// step is kept.
func (s *Store) DisableTOTP(_ context.Context, email string) error {
	return s.update(email, func(a *goGuard.Account) {
		a.TOTP = goGuard.TOTPOff()
		delete(s.backups, email)
	})
}

// ConsumeBackupCode removes hash and reports whether it was present.
func (s *Store) ConsumeBackupCode(_ context.Context, email string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.backups[email]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

// ReplaceBackupCodes fails with goGuard.ErrAccountNotFound unless TOTP is
// enabled for email.
func (s *Store) ReplaceBackupCodes(_ context.Context, email string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok || a.TOTP.Status() != goGuard.TOTPEnabled {
		return goGuard.ErrAccountNotFound
	}
	s.backups[email] = backupSet(hashes)
	return nil
}

// RecordTOTPCounter advances the last accepted time step under the store lock.
func (s *Store) RecordTOTPCounter(_ context.Context, email string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; !ok {
		return false, goGuard.ErrAccountNotFound
	}
	if counter <= s.counters[email] {
		return false, nil
	}
	s.counters[email] = counter
	return true, nil
}

func backupSet(hashes [][32]byte) map[[32]byte]struct{} {
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

var _ goGuard.AccountStore = (*Store)(nil)
