package domain

import (
	"math"
	"sort"
	"time"

	"github.com/smallbiznis/sequencer/internal/config"
)

// ScoredEventTypes lists the event types that carry weight, sorted.
func ScoredEventTypes(cfg config.ScoringConfig) []string {
	types := make([]string, 0, len(cfg.Weights))
	for eventType, points := range cfg.Weights {
		if points > 0 {
			types = append(types, eventType)
		}
	}
	sort.Strings(types)
	return types
}

// RecencyFactor picks the multiplier of the first band that covers the age
// of the last activity. No activity, or activity older than every band, is 1.
func RecencyFactor(cfg config.ScoringConfig, lastActivity *time.Time, now time.Time) float64 {
	if lastActivity == nil {
		return 1
	}
	age := now.Sub(*lastActivity)
	if age < 0 {
		age = 0
	}
	for _, band := range cfg.Recency {
		if age <= time.Duration(band.MaxAgeDays)*24*time.Hour {
			return band.Factor
		}
	}
	return 1
}

// ComputeBase sums weighted counts, applies recency, rounds and clamps.
func ComputeBase(cfg config.ScoringConfig, counts map[string]int64, lastActivity *time.Time, now time.Time) int {
	var points int64
	for eventType, count := range counts {
		points += int64(cfg.Weights[eventType]) * count
	}
	raw := math.Round(float64(points) * RecencyFactor(cfg, lastActivity, now))
	if raw > MaxScore {
		return MaxScore
	}
	return Clamp(int(raw))
}
