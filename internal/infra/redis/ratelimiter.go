package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gleamora/push-pipeline/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerMin int64 = 10
	windowSeconds            = 60
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*UserRateLimiter)(nil)

// UserRateLimiter is a distributed per-user fixed-window limiter backed by
// Redis. Windows are aligned to wall-clock minutes so every pipeline
// instance counts against the same key.
type UserRateLimiter struct {
	client      *goredis.Client
	limitPerMin int64
	now         func() time.Time
	script      *goredis.Script
}

func NewUserRateLimiter(client *goredis.Client, limitPerMin int) (*UserRateLimiter, error) {
	return newUserRateLimiter(client, int64(limitPerMin), time.Now)
}

func newUserRateLimiter(
	client *goredis.Client,
	limitPerMin int64,
	nowFn func() time.Time,
) (*UserRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerMin <= 0 {
		limitPerMin = defaultLimitPerMin
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &UserRateLimiter{
		client:      client,
		limitPerMin: limitPerMin,
		now:         nowFn,
		script:      allowScript,
	}, nil
}

func (r *UserRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("user id is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	window := r.now().UTC().Unix() / windowSeconds
	key := fmt.Sprintf("ratelimit:user:%s:%d", userID, window)
	result, err := r.script.Run(ctx, r.client, []string{key}, r.limitPerMin, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}
