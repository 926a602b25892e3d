package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// ChallengeID is an unguessable handle for a pending second-factor login.
type ChallengeID [16]byte

func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

// ParseChallengeID rejects anything that NewChallengeID could not have produced,
// so malformed input never reaches the store.
func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid challenge id size")
	}

	copy(id[:], raw)
	return id, nil
}
