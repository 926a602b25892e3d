package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginChallengeRecordVersion1 = 1
)

var (
	ErrLoginChallengeNotFound = errors.New("login challenge not found")
	ErrLoginChallengeExpired  = errors.New("login challenge expired")
	ErrLoginChallengeExceeded = errors.New("login challenge attempts exceeded")
	ErrLoginChallengeBackend  = errors.New("login challenge backend unavailable")
)

// LoginChallenge is the state carried between a password step that succeeded
// and the second-factor step that completes it.
type LoginChallenge struct {
	Email     string
	IP        string
	Method    string
	ExpiresAt int64
	Attempts  uint16
}

type LoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewLoginChallengeStore checks record expiry against now. A nil now uses
// the wall clock.
func NewLoginChallengeStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *LoginChallengeStore {
	if prefix == "" {
		prefix = "glc"
	}
	if now == nil {
		now = time.Now
	}
	return &LoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *LoginChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *LoginChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *LoginChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeLoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	return nil
}

func (s *LoginChallengeStore) Get(ctx context.Context, challengeID string) (*LoginChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}

	record, err := decodeLoginChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrLoginChallengeExpired
	}
	return record, nil
}

func (s *LoginChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure bumps the attempt count of a challenge. It returns true and
// deletes the challenge once maxAttempts is reached.
func (s *LoginChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeLoginChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			record.Attempts++
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				exceeded = int(record.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrLoginChallengeExpired
				}
				return nil
			}

			updated, err := encodeLoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrLoginChallengeNotFound
			}
			if errors.Is(err, ErrLoginChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrLoginChallengeNotFound
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("login challenge field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeLoginChallenge(record *LoginChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginChallengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range []string{record.Email, record.IP, record.Method} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeLoginChallenge(data []byte) (*LoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginChallengeRecordVersion1 {
		return nil, errors.New("invalid login challenge version")
	}

	record := &LoginChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.Email, err = readString(reader); err != nil {
		return nil, err
	}
	if record.IP, err = readString(reader); err != nil {
		return nil, err
	}
	if record.Method, err = readString(reader); err != nil {
		return nil, err
	}
	return record, nil
}
