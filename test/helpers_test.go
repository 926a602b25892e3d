package test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/httpapi"
	"github.com/MrEthical07/goGuard/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "correct-horse-battery"
)

type outbox struct {
	mu    sync.Mutex
	codes []string
}

func (o *outbox) SendOTPEmail(_ context.Context, _, code, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, code)
	return nil
}

func (o *outbox) last(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.codes, "no passcode sent")
	return o.codes[len(o.codes)-1]
}

type stack struct {
	mr       *miniredis.Miniredis
	engine   *goGuard.Engine
	accounts *memory.Store
	mail     *outbox
	handler  http.Handler
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	deviceKey := make([]byte, 32)
	_, err = rand.Read(deviceKey)
	require.NoError(t, err)

	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.TrustedDevice.SigningKey = deviceKey
	cfg.Breach.Enabled = false
	cfg.Audit.Async = false
	cfg.Delivery.Async = false
	cfg.OTP.ResponseFloor = 0
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &stack{mr: mr, accounts: memory.New(), mail: &outbox{}}
	s.engine, err = goGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(s.accounts).
		WithOTPSender(s.mail).
		WithLogger(logger).
		Build()
	require.NoError(t, err)
	t.Cleanup(s.engine.Close)

	hash, err := s.engine.HashPassword(context.Background(), alicePassword)
	require.NoError(t, err)
	s.accounts.Put(goGuard.Account{Email: aliceEmail, PasswordHash: hash, Role: "user", Active: true})

	router, err := httpapi.New(s.engine, httpapi.Options{Logger: logger})
	require.NoError(t, err)
	s.handler = router
	return s
}

type response struct {
	code   int
	header http.Header
	body   map[string]any
}

func (s *stack) call(t *testing.T, method, path, ip, token string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = ip + ":40000"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	out := response{code: w.Code, header: w.Header()}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out.body))
	}
	return out
}

// signIn completes the password and emailed passcode steps and returns the
// access token.
func (s *stack) signIn(t *testing.T, ip string) string {
	t.Helper()
	res := s.call(t, http.MethodPost, "/auth/login", ip, "", gin.H{"email": aliceEmail, "password": alicePassword})
	require.Equal(t, http.StatusOK, res.code)
	require.Equal(t, "second_factor_required", res.body["status"])

	res = s.call(t, http.MethodPost, "/auth/login/verify", ip, "", gin.H{
		"challenge_id": res.body["challenge_id"],
		"code":         s.mail.last(t),
		"method":       "otp",
	})
	require.Equal(t, http.StatusOK, res.code)
	token, _ := res.body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}
