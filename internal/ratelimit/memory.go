package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

const defaultPerMinute = 10

// MemoryRateLimiter is a per-user token-bucket limiter for single-process
// deployments. The distributed variant lives in internal/infra/redis.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewMemoryRateLimiter(perMinute int) *MemoryRateLimiter {
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	return &MemoryRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("user id is required")
	}
	if ctx != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.Lock()
	limiter, ok := m.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(m.limit, m.burst)
		m.limiters[userID] = limiter
	}
	m.mu.Unlock()

	return limiter.Allow(), nil
}
