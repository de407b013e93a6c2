package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket; ARGV rate (tokens/s), burst, ttl (ms), cost.
// Replies {allowed, tokens left as a string, server time in ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) / 1000 * rate)
end

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`

var (
	ErrBucketNotConfigured = errors.New("rate limiter not configured")
	ErrInvalidBucketArgs   = errors.New("rate limiter key, rate and burst are required")
)

// TokenBucket is a Redis-side token bucket. State lives in one hash per key
// so every API replica shares the same budget.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	return t.AllowN(ctx, key, rate, burst, 1)
}

// AllowN takes n tokens at once or none. n is clamped to [1, burst] so a
// full bucket always admits the request.
func (t *TokenBucket) AllowN(ctx context.Context, key string, rate float64, burst, n int) (*RateLimitResult, error) {
	denied := &RateLimitResult{Limit: burst}
	if t == nil || t.client == nil {
		return denied, ErrBucketNotConfigured
	}
	if key == "" || rate <= 0 || burst <= 0 {
		return denied, ErrInvalidBucketArgs
	}
	n = min(max(n, 1), burst)

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate, burst, bucketTTL(rate, burst).Milliseconds(), n,
	).Slice()
	if err != nil {
		return denied, err
	}
	if len(reply) != 3 {
		return denied, errors.New("invalid rate limit script response")
	}

	left := toFloat(reply[1])
	res := &RateLimitResult{
		Allowed:   toInt(reply[0]) == 1,
		Limit:     burst,
		Remaining: int(left),
		ResetTime: time.UnixMilli(toInt(reply[2])),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration((float64(n) - left) / rate * float64(time.Second))
		res.ResetTime = res.ResetTime.Add(res.RetryAfter)
	}
	return res, nil
}

// bucketTTL keeps an idle bucket around for twice its refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	}
	return 0
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	}
	return 0
}
