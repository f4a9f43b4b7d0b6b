package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/sequencer/internal/config"
)

const keyEventIngestOrg = "sequencer:events:ingest:org:%s"

// EventIngestLimiter throttles POST /api/events per tenant.
type EventIngestLimiter struct {
	bucket *TokenBucket
	rate   Rate
}

// NewEventIngestLimiter returns nil when rate limiting is disabled.
func NewEventIngestLimiter(cfg config.Config, client *redis.Client) (*EventIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	rate := Rate{PerSecond: limitCfg.IngestRate, Burst: limitCfg.IngestBurst}
	if err := rate.validate(); err != nil {
		return nil, err
	}
	return &EventIngestLimiter{bucket: NewTokenBucket(client), rate: rate}, nil
}

func (l *EventIngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *EventIngestLimiter) AllowOrg(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyEventIngestOrg, strings.TrimSpace(orgID)), l.rate)
}
