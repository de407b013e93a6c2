package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/luc/internal/config"
)

const keyAccountMutations = "luc:ratelimit:account:%s"

// AccountLimiter throttles mutating calls per account. A nil or disabled
// limiter allows everything.
type AccountLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewAccountLimiter(cfg config.Config, client *redis.Client) (*AccountLimiter, error) {
	if !cfg.RateLimitEnabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if cfg.RateLimitRate <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, errors.New("rate limit rate and burst must be positive")
	}
	return &AccountLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimitRate,
		burst:  cfg.RateLimitBurst,
	}, nil
}

func (l *AccountLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *AccountLimiter) Allow(ctx context.Context, userID string) (*RateLimitResult, error) {
	return l.AllowN(ctx, userID, 1)
}

// AllowN charges n tokens, one per usage item in a batch.
func (l *AccountLimiter) AllowN(ctx context.Context, userID string, n int) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.AllowN(ctx, fmt.Sprintf(keyAccountMutations, strings.TrimSpace(userID)), l.rate, l.burst, n)
}
