package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/sequencer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventIngestLimiterDisabled(t *testing.T) {
	limiter, err := NewEventIngestLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowOrg(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEventIngestLimiterRequiresRedis(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, IngestRate: 1, IngestBurst: 1}}
	_, err := NewEventIngestLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestEventIngestLimiterRejectsNonPositiveRate(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, IngestRate: 0, IngestBurst: 5}}
	_, err := NewEventIngestLimiter(cfg, redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestRateMath(t *testing.T) {
	r := Rate{PerSecond: 10, Burst: 5}
	assert.Equal(t, 100*time.Millisecond, r.retryAfter(0))
	assert.Equal(t, 50*time.Millisecond, r.retryAfter(0.5))
	assert.Zero(t, r.retryAfter(1.2))
	assert.Equal(t, time.Second, r.ttl())
	assert.Equal(t, 2*time.Second, Rate{PerSecond: 1, Burst: 1}.ttl())
}

func TestNilBucket(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Take(context.Background(), "k", Rate{PerSecond: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrLimiterUnavailable)
}

func TestReplyConversion(t *testing.T) {
	assert.Equal(t, 2.75, toFloat64("2.75"))
	assert.Equal(t, float64(3), toFloat64(int64(3)))
	assert.Equal(t, int64(1), toInt64(int64(1)))
	assert.Zero(t, toInt64(nil))
}

func TestNilLockerIsInert(t *testing.T) {
	var locker *Locker
	lock, err := locker.TryLock(context.Background(), "scheduler:advance_enrollments", time.Second)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.Nil(t, lock)

	var held *Lock
	assert.NoError(t, held.Release(context.Background()))
	assert.Empty(t, held.Key())
}
