package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, cfg), mr
}

func TestLimiterBlocksAfterMaxFailures(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := l.RecordFailure(ctx, ActionSignIn, "Ada@Example.com", ""); err != nil {
			t.Fatalf("failure %d: unexpected %v", i, err)
		}
		if err := l.Check(ctx, ActionSignIn, "ada@example.com", ""); err != nil {
			t.Fatalf("check after %d failures: %v", i, err)
		}
	}
	if err := l.RecordFailure(ctx, ActionSignIn, "ada@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected third failure to exhaust budget, got %v", err)
	}
	if err := l.Check(ctx, ActionSignIn, " ADA@example.com ", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected normalized identifier to be limited, got %v", err)
	}

	if err := l.Check(ctx, ActionSignUp, "ada@example.com", ""); err != nil {
		t.Fatalf("expected actions to be counted separately, got %v", err)
	}
	if n, _ := l.Attempts(ctx, ActionSignIn, "ada@example.com"); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, ActionPasswordReset, "ada@example.com", "")
	if err := l.Check(ctx, ActionPasswordReset, "ada@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	mr.FastForward(61 * time.Second)
	if err := l.Check(ctx, ActionPasswordReset, "ada@example.com", ""); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestLimiterIPThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, EnableIPThrottle: true})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, ActionSignIn, "a@example.com", "10.0.0.1")
	_ = l.RecordFailure(ctx, ActionSignIn, "b@example.com", "10.0.0.1")

	if err := l.Check(ctx, ActionSignIn, "c@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip to be limited, got %v", err)
	}
	if err := l.Check(ctx, ActionSignIn, "c@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("expected other ip to pass, got %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute, EnableIPThrottle: true})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, ActionSignIn, "ada@example.com", "10.0.0.1")
	if err := l.Reset(ctx, ActionSignIn, "ada@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, ActionSignIn, "ada@example.com", "10.0.0.1"); err != nil {
		t.Fatalf("expected reset to clear counters, got %v", err)
	}
}

func TestLimiterRedisUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})
	mr.Close()

	if err := l.Check(context.Background(), ActionSignIn, "ada@example.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
