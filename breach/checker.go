// Package breach checks candidate passwords against the Have I Been Pwned
// range API using k-anonymity: only the first five hex characters of the
// password's SHA-1 ever leave the process.
//
// Lookups fail open. A timeout, transport error or non-200 response reports
// the password as not breached and logs a warning.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const DefaultEndpoint = "https://api.pwnedpasswords.com/range/"

const prefixLen = 5

// Config tunes the checker.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	// RequestsPerSecond paces outbound calls; Burst allows short spikes.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Checker is safe for concurrent use.
type Checker struct {
	config  Config
	client  *http.Client
	cache   *expirable.LRU[string, map[string]struct{}]
	group   singleflight.Group
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New returns a Checker. client and logger may be nil.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "goGuard-breach-checker"
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Checker{
		config:  cfg,
		client:  client,
		cache:   expirable.NewLRU[string, map[string]struct{}](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// IsBreached reports whether password appears in the breach corpus. It never
// blocks longer than the configured timeout and never returns an error.
func (c *Checker) IsBreached(ctx context.Context, password string) bool {
	if password == "" {
		return false
	}
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:prefixLen], digest[prefixLen:]

	suffixes, err := c.lookup(ctx, prefix)
	if err != nil {
		c.logger.Warn("breach check unavailable, failing open",
			slog.String("prefix", prefix),
			slog.Any("error", err),
		)
		return false
	}
	_, found := suffixes[suffix]
	return found
}

func (c *Checker) lookup(ctx context.Context, prefix string) (map[string]struct{}, error) {
	if cached, ok := c.cache.Get(prefix); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	ch := c.group.DoChan(prefix, func() (interface{}, error) {
		// The shared fetch outlives any single caller's cancellation but keeps
		// the hard timeout.
		fetchCtx, fetchCancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer fetchCancel()

		set, err := c.fetch(fetchCtx, prefix)
		if err != nil {
			return nil, err
		}
		c.cache.Add(prefix, set)
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]struct{}), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Checker) fetch(ctx context.Context, prefix string) (map[string]struct{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("breach: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+prefix, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("breach: unexpected status %d", resp.StatusCode)
	}
	return parseRange(resp.Body)
}

var errMalformedRange = errors.New("breach: malformed range response")

// parseRange reads SUFFIX:COUNT lines. Zero-count lines are padding.
func parseRange(r io.Reader) (map[string]struct{}, error) {
	set := make(map[string]struct{}, 1024)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		suffix, countStr, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errMalformedRange
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return nil, errMalformedRange
		}
		if count > 0 {
			set[strings.ToUpper(suffix)] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}
