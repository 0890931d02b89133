package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter throttles bid submissions with a sliding window over a sorted
// set, evaluated atomically in Lua so every instance shares one budget per
// caller.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow records a request against key when it fits within limit requests per
// window. A rejected request is not recorded, and retryAfter says when the
// oldest counted request leaves the window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	result, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) != 2 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}
	return domain.RateDecision{
		Allowed:    result[0] == 1,
		RetryAfter: time.Duration(result[1]) * time.Microsecond,
	}, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
