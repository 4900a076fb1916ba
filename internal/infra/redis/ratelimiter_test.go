package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestUserRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newUserRateLimiter(rdb, 2, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newUserRateLimiter() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "U1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call within the window should be rejected")
	}

	now = now.Add(time.Minute)
	allowed, err = limiter.Allow(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new minute window should allow the call")
	}
}

func TestUserRateLimiterAllowPerUser(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newUserRateLimiter(rdb, 1, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newUserRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Allow(U1) error = %v", err)
	}
	if !allowed {
		t.Fatal("U1 should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "U2")
	if err != nil {
		t.Fatalf("Allow(U2) error = %v", err)
	}
	if !allowed {
		t.Fatal("U2 should be allowed on first request")
	}

	allowed, err = limiter.Allow(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Allow(U1) error = %v", err)
	}
	if allowed {
		t.Fatal("U1 second request should be rejected")
	}
}

func TestUserRateLimiterRequiresUserID(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	limiter, err := NewUserRateLimiter(rdb, 5)
	if err != nil {
		t.Fatalf("NewUserRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
