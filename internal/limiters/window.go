package limiters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments KEYS[1] and starts its TTL on the first hit in one
// round trip, so a counter can never be left without expiry.
//
// ARGV[1] = window in milliseconds
// Returns {count, remaining ttl in ms}.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// incrWindow counts one hit in a fixed window and reports the hit count and
// the time left before the window resets.
func incrWindow(ctx context.Context, rdb redis.UniversalClient, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := windowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected window reply length %d", len(res))
	}
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = window
	}
	return res[0], ttl, nil
}
