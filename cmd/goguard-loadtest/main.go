package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of accounts to seed")
		addresses   = flag.Int("addresses", 5000, "number of distinct client addresses")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (check + failed login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *addresses <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, addresses, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	store := engine.store
	emails := make([]string, *accounts)
	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	hash, err := engine.HashPassword(ctx, "load test password")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@load.test", i)
		store.Put(goGuard.Account{Email: emails[i], PasswordHash: hash, Role: "user", Active: true})
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	ips := make([]string, *addresses)
	for i := range ips {
		ips[i] = fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF)
	}

	checkStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand) error {
		c := goGuard.WithClientIP(ctx, ips[r.Intn(len(ips))])
		_, err := engine.CheckRateLimit(c, emails[r.Intn(len(emails))])
		return err
	})
	failStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand) error {
		c := goGuard.WithClientIP(ctx, ips[r.Intn(len(ips))])
		_, err := engine.Login(c, goGuard.LoginRequest{Email: emails[r.Intn(len(emails))], Password: "wrong password guess"})
		switch {
		case errors.Is(err, goGuard.ErrInvalidCredentials), errors.Is(err, goGuard.ErrBlocked):
			return nil
		default:
			return err
		}
	})

	fmt.Println("---- results ----")
	printStats("check", checkStats)
	printStats("failed-login", failStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("blocked=%d locked=%d limiter_unavailable=%d audited=%d audit_dropped=%d\n",
		snap.Counters[goGuard.MetricLoginRateLimited],
		snap.Counters[goGuard.MetricAccountLocked],
		snap.Counters[goGuard.MetricLimiterUnavailable],
		engine.audited.Load(),
		engine.AuditDropped(),
	)
}

type discardSender struct{}

func (discardSender) SendOTPEmail(context.Context, string, string, string) error { return nil }

type loadEngine struct {
	*goGuard.Engine
	store   *memory.Store
	audited *atomic.Int64
}

func buildEngine(client redis.UniversalClient) (*loadEngine, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	deviceKey := make([]byte, 32)
	if _, err := rand.Read(deviceKey); err != nil {
		return nil, err
	}

	cfg := goGuard.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.TrustedDevice.SigningKey = deviceKey
	cfg.Breach.Enabled = false
	// Hashing cost is not what this tool measures.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	// Audit entries are only counted.
	sink := goGuard.NewChannelAuditSink(4096)
	audited := new(atomic.Int64)
	go func() {
		for range sink.Events() {
			audited.Add(1)
		}
	}()

	store := memory.New()
	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(store).
		WithOTPSender(discardSender{}).
		WithAuditSink(sink).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		return nil, err
	}
	return &loadEngine{Engine: engine, store: store, audited: audited}, nil
}

func runPhase(ops, concurrency int, seed int64, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
