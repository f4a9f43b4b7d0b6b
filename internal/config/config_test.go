package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SNOWFLAKE_NODE_ID", "7")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("SCHEDULER_RUN_INTERVAL", "45s")
	t.Setenv("SCHEDULER_JOBS", "advance_enrollments, score_refresh")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("RATE_LIMIT_INGEST_RATE", "12.5")

	cfg := Load()

	assert.Equal(t, int64(7), cfg.NodeID)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.RunInterval)
	assert.Equal(t, []string{"advance_enrollments", "score_refresh"}, cfg.Scheduler.EnabledJobs)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, 12.5, cfg.RateLimit.IngestRate)
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "lots")
	t.Setenv("SCHEDULER_LEASE_DURATION", "forever")
	t.Setenv("DATABASE_AUTO_MIGRATE", "maybe")

	cfg := Load()

	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.LeaseDuration)
	assert.True(t, cfg.DBAutoMigrate)
}
