package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLimiterUnavailable = errors.New("rate_limiter_unavailable")
	ErrInvalidRate        = errors.New("invalid_rate_limit")
)

// The bucket state lives in one hash per key. Redis truncates Lua numbers
// to integers on reply, so the fractional token count is returned as a
// string.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = (t[1] * 1000) + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), now}
`

// Rate is a refill rate in tokens per second with a bucket capacity.
type Rate struct {
	PerSecond float64
	Burst     int
}

func (r Rate) validate() error {
	if r.PerSecond <= 0 || r.Burst <= 0 {
		return fmt.Errorf("%w: rate=%v burst=%d", ErrInvalidRate, r.PerSecond, r.Burst)
	}
	return nil
}

// ttl keeps an idle bucket around for twice its full-refill time.
func (r Rate) ttl() time.Duration {
	seconds := math.Max(1, math.Ceil(float64(r.Burst)/r.PerSecond*2))
	return time.Duration(seconds) * time.Second
}

// retryAfter is the time until one token refills.
func (r Rate) retryAfter(remaining float64) time.Duration {
	needed := 1 - remaining
	if needed <= 0 || r.PerSecond <= 0 {
		return 0
	}
	return time.Duration(needed / r.PerSecond * float64(time.Second))
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// TokenBucket is a redis-backed token bucket shared by every API replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Take removes one token from the bucket at key.
func (t *TokenBucket) Take(ctx context.Context, key string, rate Rate) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return nil, ErrLimiterUnavailable
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidRate)
	}
	if err := rate.validate(); err != nil {
		return nil, err
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		rate.PerSecond, rate.Burst, rate.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("%w: unexpected script reply %v", ErrLimiterUnavailable, reply)
	}

	allowed := toInt64(reply[0]) == 1
	remaining := toFloat64(reply[1])
	result := &RateLimitResult{
		Allowed:   allowed,
		Limit:     rate.Burst,
		Remaining: int(remaining),
		ResetTime: time.UnixMilli(toInt64(reply[2])),
	}
	if !allowed {
		result.RetryAfter = rate.retryAfter(remaining)
	}
	return result, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	case int64:
		return float64(n)
	}
	return 0
}
