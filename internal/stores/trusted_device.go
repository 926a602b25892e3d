package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTrustedDeviceNotFound = errors.New("trusted device not found")
	ErrTrustedDeviceBackend  = errors.New("trusted device backend unavailable")
)

// TrustedDeviceStore keeps one record per issued device token. A record is the
// server-side half of a trusted device: without it the signed token is void.
type TrustedDeviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTrustedDeviceStore(redisClient redis.UniversalClient, prefix string) *TrustedDeviceStore {
	if prefix == "" {
		prefix = "gtd"
	}
	return &TrustedDeviceStore{redis: redisClient, prefix: prefix}
}

func (s *TrustedDeviceStore) key(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *TrustedDeviceStore) indexKey(email string) string {
	return s.prefix + ":e:" + strings.ToLower(email)
}

// Save records tokenID as trusted for email until ttl elapses.
func (s *TrustedDeviceStore) Save(ctx context.Context, tokenID, email string, ttl time.Duration) error {
	idx := s.indexKey(email)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(tokenID), strings.ToLower(email), ttl)
		pipe.SAdd(ctx, idx, tokenID)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return nil
}

// Lookup returns the email bound to tokenID.
func (s *TrustedDeviceStore) Lookup(ctx context.Context, tokenID string) (string, error) {
	email, err := s.redis.Get(ctx, s.key(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrTrustedDeviceNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return email, nil
}

// Revoke deletes one record. Revoking an unknown ID is not an error.
func (s *TrustedDeviceStore) Revoke(ctx context.Context, tokenID string) error {
	email, err := s.Lookup(ctx, tokenID)
	if errors.Is(err, ErrTrustedDeviceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tokenID))
		pipe.SRem(ctx, s.indexKey(email), tokenID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return nil
}

// RevokeAll deletes every record issued to email and returns how many there were.
func (s *TrustedDeviceStore) RevokeAll(ctx context.Context, email string) (int, error) {
	idx := s.indexKey(email)
	ids, err := s.redis.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, idx)
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTrustedDeviceBackend, err)
	}
	return len(ids), nil
}
