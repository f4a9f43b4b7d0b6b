package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig holds tunables that operators may change without a restart.
type EngineConfig struct {
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

type ScoringConfig struct {
	// Weights maps event type to points per occurrence.
	Weights map[string]int `mapstructure:"weights"`
	Recency []RecencyBand  `mapstructure:"recency"`
}

// RecencyBand applies Factor when the last activity is at most MaxAgeDays old.
type RecencyBand struct {
	MaxAgeDays int     `mapstructure:"maxAgeDays"`
	Factor     float64 `mapstructure:"factor"`
}

type DeliveryConfig struct {
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	InitialBackoff time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff     time.Duration `mapstructure:"maxBackoff"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scoring: ScoringConfig{
			Weights: map[string]int{
				"email_opened":   5,
				"email_clicked":  10,
				"reply_received": 20,
				"meeting_booked": 50,
			},
			Recency: []RecencyBand{
				{MaxAgeDays: 7, Factor: 2.0},
				{MaxAgeDays: 30, Factor: 1.5},
			},
		},
		Delivery: DeliveryConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Minute,
			MaxBackoff:     time.Hour,
		},
	}
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder pins a fixed config; used by tests and tools.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	log = log.Named("engine-config")
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/sequencer")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEQUENCER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.scoring.weights", defaults.Scoring.Weights)
	v.SetDefault("engine.scoring.recency", defaults.Scoring.Recency)
	v.SetDefault("engine.delivery.maxAttempts", defaults.Delivery.MaxAttempts)
	v.SetDefault("engine.delivery.initialBackoff", defaults.Delivery.InitialBackoff)
	v.SetDefault("engine.delivery.maxBackoff", defaults.Delivery.MaxBackoff)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodeEngineConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEngineConfig(v)
		if err != nil {
			log.Warn("engine config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func decodeEngineConfig(v *viper.Viper) (EngineConfig, error) {
	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return EngineConfig{}, err
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if len(cfg.Scoring.Weights) == 0 {
		return errors.New("engine.scoring.weights cannot be empty")
	}
	for eventType, points := range cfg.Scoring.Weights {
		if points < 0 {
			return fmt.Errorf("engine.scoring.weights.%s must not be negative", eventType)
		}
	}
	prev := -1
	for _, band := range cfg.Scoring.Recency {
		if band.MaxAgeDays <= prev {
			return errors.New("engine.scoring.recency must be sorted by maxAgeDays ascending")
		}
		if band.Factor < 1 {
			return errors.New("engine.scoring.recency factor must be >= 1")
		}
		prev = band.MaxAgeDays
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return errors.New("engine.delivery.maxAttempts must be >= 1")
	}
	if cfg.Delivery.InitialBackoff <= 0 || cfg.Delivery.MaxBackoff < cfg.Delivery.InitialBackoff {
		return errors.New("engine.delivery backoff bounds are invalid")
	}
	return nil
}
