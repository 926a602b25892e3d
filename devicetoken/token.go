// Package devicetoken signs and verifies trusted-device tokens.
//
// A token is an HS256 JWT carrying {email, tid}. Its embedded expiry is only a
// ceiling: callers must also confirm the tid against the server-side record,
// which holds the authoritative expiry and makes revocation possible.
package devicetoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the embedded expiry ceiling.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("devicetoken: invalid token")
	ErrWeakKey      = errors.New("devicetoken: signing key must be at least 32 bytes")
)

// Claims is the verified payload.
type Claims struct {
	Email   string `json:"email"`
	TokenID string `json:"tid"`
	jwt.RegisteredClaims
}

// Service issues and verifies device tokens.
type Service struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// New returns a Service. ttl <= 0 uses DefaultTTL.
func New(key []byte, ttl time.Duration, issuer string) (*Service, error) {
	if len(key) < 32 {
		return nil, ErrWeakKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{key: key, ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// TTL returns the embedded expiry ceiling.
func (s *Service) TTL() time.Duration { return s.ttl }

// NewTokenID returns a fresh random token ID.
func NewTokenID() string {
	return uuid.NewString()
}

// Issue signs {email, tokenID}.
func (s *Service) Issue(email, tokenID string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || tokenID == "" {
		return "", ErrInvalidToken
	}
	now := s.now()
	claims := Claims{
		Email:   email,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify checks signature and embedded expiry only.
func (s *Service) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Email == "" || claims.TokenID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
