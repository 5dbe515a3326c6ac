package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openforecast/predictd/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a fixed window: one counter
// per key per window, INCR + EXPIRE made atomic by a Lua script. Order
// placement uses it to bound per-user trade frequency.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// fixedWindowLua increments the window counter, setting its expiry on first
// use, and returns the post-increment count.
const fixedWindowLua = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.rdb,
		script: redis.NewScript(fixedWindowLua),
	}
}

// Allow reports whether an action for key is permitted under limit actions
// per window. An allowed action is counted.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().UnixMilli()/window.Milliseconds())

	count, err := rl.script.Run(ctx, rl.rdb, []string{windowKey}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return count <= int64(limit), nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
