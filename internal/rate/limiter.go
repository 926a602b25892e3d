package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every counter-store failure.
	ErrRedisUnavailable = errors.New("rate limit store unavailable")
	// ErrInvalidTiers is returned by New when the tier table is not strictly increasing.
	ErrInvalidTiers = errors.New("rate limit tiers must be strictly increasing")
)

// Tier blocks a key for Block once its failure counter reaches Failures.
type Tier struct {
	Failures int
	Block    time.Duration
}

// Config holds limiter tuning parameters.
type Config struct {
	Tiers []Tier
	// Window is the sliding lifetime of a failure streak; every failure pushes it out.
	Window    time.Duration
	KeyPrefix string
	// FailOpen allows attempts when the counter store is unreachable. The default
	// (false) denies them for the first tier's block duration.
	FailOpen bool
}

// Decision is the outcome of a limiter query.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// incrementScript bumps one counter and, when a tier is reached, (re)arms its
// block key. Tier pairs arrive flattened in ARGV after the window.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
local block = 0
for i = 2, #ARGV, 2 do
  if n >= tonumber(ARGV[i]) then
    block = tonumber(ARGV[i + 1])
  end
end
if block > 0 then
  redis.call('SET', KEYS[2], n, 'PX', block)
end
local ttl = redis.call('PTTL', KEYS[2])
if ttl < 0 then
  ttl = 0
end
return {n, ttl}
`)

// Limiter is a progressive, dual-keyed failure limiter. Each attempt is tracked
// under an IP-only key and an IP+identifier key; the later unblock governs.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	args   []interface{}
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if len(cfg.Tiers) == 0 {
		return nil, ErrInvalidTiers
	}
	for i, tier := range cfg.Tiers {
		if tier.Failures <= 0 || tier.Block <= 0 {
			return nil, ErrInvalidTiers
		}
		if i > 0 && (tier.Failures <= cfg.Tiers[i-1].Failures || tier.Block <= cfg.Tiers[i-1].Block) {
			return nil, ErrInvalidTiers
		}
	}
	last := cfg.Tiers[len(cfg.Tiers)-1].Block
	if cfg.Window < last {
		cfg.Window = 2 * last
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "grl"
	}

	args := make([]interface{}, 0, 1+2*len(cfg.Tiers))
	args = append(args, cfg.Window.Milliseconds())
	for _, tier := range cfg.Tiers {
		args = append(args, tier.Failures, tier.Block.Milliseconds())
	}

	return &Limiter{redis: redisClient, config: cfg, args: args}, nil
}

// Check reports whether an attempt from ip for identifier may proceed. It never
// mutates counters. identifier may be empty, in which case only the IP key applies.
func (l *Limiter) Check(ctx context.Context, ip, identifier string) (Decision, error) {
	keys := l.keys(ip, identifier)

	pipe := l.redis.Pipeline()
	cmds := make([]*redis.DurationCmd, 0, len(keys))
	for _, k := range keys {
		cmds = append(cmds, pipe.PTTL(ctx, k.block))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return l.unavailable(err)
	}

	var retry time.Duration
	for _, cmd := range cmds {
		if ttl := cmd.Val(); ttl > retry {
			retry = ttl
		}
	}
	return decide(retry), nil
}

// Increment records one completed failed attempt against both keys and returns
// whether the next attempt is blocked.
func (l *Limiter) Increment(ctx context.Context, ip, identifier string) (Decision, error) {
	var retry time.Duration
	for _, k := range l.keys(ip, identifier) {
		res, err := incrementScript.Run(ctx, l.redis, []string{k.counter, k.block}, l.args...).Int64Slice()
		if err != nil {
			return l.unavailable(err)
		}
		if len(res) == 2 {
			if ttl := time.Duration(res[1]) * time.Millisecond; ttl > retry {
				retry = ttl
			}
		}
	}
	return decide(retry), nil
}

// Reset clears counters and blocks for both keys. Called after successful authentication.
func (l *Limiter) Reset(ctx context.Context, ip, identifier string) error {
	keys := l.keys(ip, identifier)
	del := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		del = append(del, k.counter, k.block)
	}
	if err := l.redis.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Failures returns the current streak length for the IP+identifier pair (or the
// IP key when identifier is empty). Missing keys return zero.
func (l *Limiter) Failures(ctx context.Context, ip, identifier string) (int, error) {
	keys := l.keys(ip, identifier)
	count, err := l.redis.Get(ctx, keys[len(keys)-1].counter).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Tiers returns a copy of the configured tier table.
func (l *Limiter) Tiers() []Tier {
	out := make([]Tier, len(l.config.Tiers))
	copy(out, l.config.Tiers)
	return out
}

func (l *Limiter) unavailable(err error) (Decision, error) {
	wrapped := fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	if l.config.FailOpen {
		return Decision{Allowed: true}, wrapped
	}
	return Decision{Allowed: false, RetryAfter: l.config.Tiers[0].Block}, wrapped
}

func decide(retry time.Duration) Decision {
	if retry <= 0 {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

type keyPair struct {
	counter string
	block   string
}

func (l *Limiter) keys(ip, identifier string) []keyPair {
	if ip == "" {
		ip = "unknown"
	}
	base := l.config.KeyPrefix + ":ip:" + ip
	keys := []keyPair{{counter: base + ":n", block: base + ":b"}}
	if identifier != "" {
		pair := l.config.KeyPrefix + ":id:" + strconv.Quote(ip+"|"+identifier)
		keys = append(keys, keyPair{counter: pair + ":n", block: pair + ":b"})
	}
	return keys
}
