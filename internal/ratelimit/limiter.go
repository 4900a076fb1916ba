package ratelimit

import "context"

// RateLimiter bounds how many notifications a single user may receive within
// the limiter's window. Over-limit users are excluded from targeting, never
// errored.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// AllowAll is the no-op limiter used when rate limiting is disabled.
type AllowAll struct{}

func (AllowAll) Allow(ctx context.Context, userID string) (bool, error) {
	return true, nil
}
