package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "marketbot:ratelimit:"

// fixedWindowScript counts a hit and starts the window's expiry on the first one.
var fixedWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a per-user fixed-window counter shared by every replica.
// Windows start on a user's first request and expire on their own.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per user per window.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &RateLimiter{rdb: c.rdb, limit: limit, window: window}
}

// AllowRequest counts one request for userID and reports whether it fits the limit.
func (rl *RateLimiter) AllowRequest(ctx context.Context, userID string) (bool, error) {
	n, err := fixedWindowScript.Run(ctx, rl.rdb, []string{rateLimitPrefix + userID}, rl.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", userID, err)
	}
	return n <= int64(rl.limit), nil
}
