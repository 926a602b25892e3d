package goGuard

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "a@x.com"
	testPassword = "correct horse battery"
	testIP       = "203.0.113.7"
)

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
	backups  map[string]map[[32]byte]struct{}
	counters map[string]int64
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		accounts: map[string]*Account{},
		backups:  map[string]map[[32]byte]struct{}{},
		counters: map[string]int64{},
	}
}

func (m *memoryAccounts) put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.accounts[a.Email] = &cp
}

func (m *memoryAccounts) get(email string) (*Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[email]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

func (m *memoryAccounts) update(email string, fn func(*Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[email]
	if !ok {
		return ErrAccountNotFound
	}
	fn(a)
	return nil
}

func (m *memoryAccounts) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	a, ok := m.get(email)
	if !ok {
		return nil, ErrAccountNotFound
	}
	if a.OTP != nil {
		otp := *a.OTP
		a.OTP = &otp
	}
	return a, nil
}

func (m *memoryAccounts) UpdatePasswordHash(_ context.Context, email, hash string) error {
	return m.update(email, func(a *Account) { a.PasswordHash = hash })
}

func (m *memoryAccounts) SaveOTPChallenge(_ context.Context, email string, c OTPChallenge) error {
	return m.update(email, func(a *Account) { a.OTP = &c })
}

func (m *memoryAccounts) ClearOTPChallenge(_ context.Context, email string) error {
	return m.update(email, func(a *Account) { a.OTP = nil })
}

func (m *memoryAccounts) SetLockout(_ context.Context, email string, until time.Time) error {
	return m.update(email, func(a *Account) { a.LockoutUntil = until })
}

func (m *memoryAccounts) ClearLockout(_ context.Context, email string) error {
	return m.update(email, func(a *Account) { a.LockoutUntil = time.Time{} })
}

func (m *memoryAccounts) SetTOTPPending(_ context.Context, email, secret string) error {
	return m.update(email, func(a *Account) {
		if a.TOTP.Status() != TOTPEnabled {
			a.TOTP = TOTPPendingWith(secret)
		}
	})
}

func (m *memoryAccounts) EnableTOTP(_ context.Context, email, secret string, hashes [][32]byte) error {
	return m.update(email, func(a *Account) {
		a.TOTP = TOTPEnabledWith(secret)
		set := make(map[[32]byte]struct{}, len(hashes))
		for _, h := range hashes {
			set[h] = struct{}{}
		}
		m.backups[email] = set
	})
}

func (m *memoryAccounts) DisableTOTP(_ context.Context, email string) error {
	return m.update(email, func(a *Account) {
		a.TOTP = TOTPOff()
		delete(m.backups, email)
	})
}

func (m *memoryAccounts) ConsumeBackupCode(_ context.Context, email string, hash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.backups[email]
	if _, ok := set[hash]; !ok {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

func (m *memoryAccounts) ReplaceBackupCodes(_ context.Context, email string, hashes [][32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[email]
	if !ok || a.TOTP.Status() != TOTPEnabled {
		return ErrAccountNotFound
	}
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	m.backups[email] = set
	return nil
}

func (m *memoryAccounts) RecordTOTPCounter(_ context.Context, email string, counter int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[email]; !ok {
		return false, ErrAccountNotFound
	}
	if counter <= m.counters[email] {
		return false, nil
	}
	m.counters[email] = counter
	return true, nil
}

type sentOTP struct {
	email   string
	code    string
	purpose string
}

type capturingSender struct {
	mu   sync.Mutex
	sent []sentOTP
	// delay simulates a slow mail relay.
	delay time.Duration
}

func (s *capturingSender) SendOTPEmail(_ context.Context, email, code, purpose string) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentOTP{email: email, code: code, purpose: purpose})
	return nil
}

func (s *capturingSender) last(t *testing.T) sentOTP {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no passcode was sent")
	}
	return s.sent[len(s.sent)-1]
}

func (s *capturingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testEnv struct {
	engine   *Engine
	redis    *miniredis.Miniredis
	accounts *memoryAccounts
	sender   *capturingSender
	audit    *memoryAuditSink
	now      time.Time
}

type memoryAuditSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (s *memoryAuditSink) Emit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memoryAuditSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		if e.Kind == AuditKindSystem {
			out = append(out, e.Action)
		}
	}
	return out
}

func testEngineConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.TrustedDevice.SigningKey = []byte(strings.Repeat("d", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Breach.Enabled = false
	cfg.Audit.Async = false
	cfg.Delivery.Async = false
	cfg.OTP.ResponseFloor = 0
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithSink(t, nil, mutate)
}

// newTestEnvWithSink routes audit entries to sink instead of env.audit when
// sink is non-nil.
func newTestEnvWithSink(t *testing.T, sink AuditSink, mutate func(*Config)) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testEngineConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		redis:    mr,
		accounts: newMemoryAccounts(),
		sender:   &capturingSender{},
		audit:    &memoryAuditSink{},
		now:      time.Now().UTC().Truncate(time.Second),
	}

	if sink == nil {
		sink = env.audit
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.accounts).
		WithOTPSender(env.sender).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	engine.now = func() time.Time { return env.now }
	env.engine = engine

	env.addAccount(t, testEmail, testPassword, "user")
	return env
}

func (env *testEnv) addAccount(t *testing.T, email, password, role string) {
	t.Helper()
	hash, err := env.engine.passwordHash.Hash(password)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	env.accounts.put(Account{Email: email, PasswordHash: hash, Role: role, Active: true})
}

// advance moves both the engine clock and the Redis clock.
func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
	env.redis.FastForward(d)
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

// loginWithOTP runs both login steps using the emailed passcode.
func (env *testEnv) loginWithOTP(t *testing.T, ctx context.Context, email, password string, trust bool) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(ctx, LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginSecondFactorRequired || res.Method != MethodOTP {
		t.Fatalf("expected otp challenge, got %+v", res)
	}
	code := env.sender.last(t).code
	done, err := env.engine.CompleteLogin(ctx, SecondFactorRequest{
		ChallengeID: res.ChallengeID,
		Code:        code,
		Method:      MethodOTP,
		TrustDevice: trust,
	})
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if done.Status != LoginAuthenticated || done.AccessToken == "" {
		t.Fatalf("expected authenticated result, got %+v", done)
	}
	return done
}

func requireBlocked(t *testing.T, err error, reason string) *BlockedError {
	t.Helper()
	blocked, ok := err.(*BlockedError)
	if !ok {
		t.Fatalf("expected *BlockedError, got %T %v", err, err)
	}
	if blocked.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, blocked.Reason)
	}
	return blocked
}
