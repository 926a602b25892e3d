package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const backupCodeHalf = 5

var ErrBackupCodeCount = errors.New("totp: backup code count must be positive")

// GenerateBackupCodes returns count display codes (XXXXX-XXXXX) and their hashes
// bound to email. Only the hashes should be stored.
func GenerateBackupCodes(email string, count int) ([]string, [][32]byte, error) {
	if count <= 0 {
		return nil, nil, ErrBackupCodeCount
	}

	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	seen := make(map[string]struct{}, count)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))

	for len(codes) < count {
		raw := make([]byte, 2*backupCodeHalf)
		for i := range raw {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, nil, err
			}
			raw[i] = BackupCodeAlphabet[n.Int64()]
		}
		canonical := string(raw)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		codes = append(codes, canonical[:backupCodeHalf]+"-"+canonical[backupCodeHalf:])
		hashes = append(hashes, HashBackupCode(email, canonical))
	}
	return codes, hashes, nil
}

// CanonicalBackupCode strips separators and upper-cases a submitted code.
// It returns "" if the result cannot be a backup code.
func CanonicalBackupCode(code string) string {
	var b strings.Builder
	b.Grow(2 * backupCodeHalf)
	for _, r := range strings.ToUpper(code) {
		switch {
		case r == '-' || r == ' ':
			continue
		case strings.ContainsRune(BackupCodeAlphabet, r):
			b.WriteRune(r)
		default:
			return ""
		}
	}
	if b.Len() != 2*backupCodeHalf {
		return ""
	}
	return b.String()
}

// HashBackupCode binds a canonical code to its account.
func HashBackupCode(email, canonical string) [32]byte {
	buf := make([]byte, 0, len(email)+1+len(canonical))
	buf = append(buf, strings.ToLower(email)...)
	buf = append(buf, 0)
	buf = append(buf, canonical...)
	return sha256.Sum256(buf)
}
