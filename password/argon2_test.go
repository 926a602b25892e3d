package password

import (
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newTestHasher(t, testConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if !hasher.Verify("P@ssw0rd-Ascii", hash) {
		t.Fatal("expected password verification to succeed")
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	hasher := newTestHasher(t, testConfig())

	a, err := hasher.Hash("same-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	b, err := hasher.Hash("same-password-1")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct digests for the same password")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher := newTestHasher(t, testConfig())

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if hasher.Verify("wrong-password", hash) {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestVerifyMalformedDigestReturnsFalse(t *testing.T) {
	hasher := newTestHasher(t, testConfig())

	cases := []string{
		"",
		"not-a-phc-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for _, encoded := range cases {
		if hasher.Verify("password-123", encoded) {
			t.Fatalf("expected malformed digest %q to fail verification", encoded)
		}
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	hasher := newTestHasher(t, testConfig())
	if _, err := hasher.Hash(""); err != ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, testConfig())
	hash, err := weak.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	strongCfg := testConfig()
	strongCfg.Time = 2
	strong := newTestHasher(t, strongCfg)

	if !strong.NeedsRehash(hash) {
		t.Fatal("expected NeedsRehash for weaker parameters")
	}
	if weak.NeedsRehash(hash) {
		t.Fatal("expected no rehash for current parameters")
	}
	if !weak.NeedsRehash("garbage") {
		t.Fatal("expected malformed digest to need rehash")
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected error for memory below minimum")
	}
	cfg = testConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected error for short salt")
	}
}

func TestPolicyCheck(t *testing.T) {
	p := Policy{MinLength: 10, MaxLength: 20}

	if err := p.Check("short"); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if err := p.Check(strings.Repeat("a", 21)); err != ErrTooLong {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if err := p.Check(string([]byte{0xff, 0xfe, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h'})); err != ErrInvalidEncoding {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
	if err := p.Check("long-enough-pw"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
}
