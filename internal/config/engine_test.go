package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateEngineConfig(DefaultEngineConfig()))
}

func TestValidateEngineConfigRejectsUnsortedRecency(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Scoring.Recency = []RecencyBand{{MaxAgeDays: 30, Factor: 1.5}, {MaxAgeDays: 7, Factor: 2}}
	assert.Error(t, ValidateEngineConfig(cfg))
}

func TestDecodeEngineConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yml")
	content := []byte(`engine:
  scoring:
    weights:
      email_opened: 3
      meeting_booked: 40
    recency:
      - maxAgeDays: 14
        factor: 1.25
  delivery:
    maxAttempts: 3
    initialBackoff: 30s
    maxBackoff: 10m
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := decodeEngineConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scoring.Weights["email_opened"])
	assert.Equal(t, []RecencyBand{{MaxAgeDays: 14, Factor: 1.25}}, cfg.Scoring.Recency)
	assert.Equal(t, 30*time.Second, cfg.Delivery.InitialBackoff)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
}

func TestLoadReadsSchedulerOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "25")
	t.Setenv("SCHEDULER_RUN_INTERVAL", "5s")
	t.Setenv("SCHEDULER_JOBS", "advance_enrollments, score_refresh")

	cfg := Load()
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RunInterval)
	assert.Equal(t, []string{"advance_enrollments", "score_refresh"}, cfg.Scheduler.EnabledJobs)
}
