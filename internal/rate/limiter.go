package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action names the form an attempt was made on.
type Action string

const (
	ActionSignIn        Action = "signin"
	ActionSignUp        Action = "signup"
	ActionPasswordReset Action = "reset"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Prefix           string
	EnableIPThrottle bool
	MaxAttempts      int
	Window           time.Duration
}

// Limiter enforces per-identifier and per-IP attempt budgets using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ag:rl"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Check returns ErrRateLimited when identifier or ip already used up the
// attempt budget for action.
func (l *Limiter) Check(ctx context.Context, action Action, identifier, ip string) error {
	for _, key := range l.keys(action, identifier, ip) {
		if err := l.checkCounter(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts one failed attempt. It returns ErrRateLimited when
// this attempt exhausted the budget.
func (l *Limiter) RecordFailure(ctx context.Context, action Action, identifier, ip string) error {
	limited := false
	for _, key := range l.keys(action, identifier, ip) {
		count, err := l.incrementWithTTL(ctx, key)
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counters for identifier and ip. Called after a
// successful attempt.
func (l *Limiter) Reset(ctx context.Context, action Action, identifier, ip string) error {
	keys := l.keys(action, identifier, ip)
	if len(keys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter for identifier. Missing keys return
// zero.
func (l *Limiter) Attempts(ctx context.Context, action Action, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.identifierKey(action, identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) keys(action Action, identifier, ip string) []string {
	keys := make([]string, 0, 2)
	if id := normalizeIdentifier(identifier); id != "" {
		keys = append(keys, l.identifierKey(action, id))
	}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.config.Prefix+":"+string(action)+":ip:"+ip)
	}
	return keys
}

func (l *Limiter) identifierKey(action Action, identifier string) string {
	return l.config.Prefix + ":" + string(action) + ":id:" + normalizeIdentifier(identifier)
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
