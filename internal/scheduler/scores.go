package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
)

// ScoreRefreshJob recomputes scores whose recency band may have moved since
// they were last written.
func (s *Scheduler) ScoreRefreshJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobScoreRefresh, s.cfg.ScoreBatchSize)
	if owner {
		defer s.endRun(run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.ScoreRefreshAge)
	refreshed, err := s.scores.RefreshStale(ctx, cutoff, s.cfg.ScoreBatchSize)
	run.AddProcessed(refreshed)
	s.metrics.AddBatchProcessed(JobScoreRefresh, obsmetrics.ResourceScores, refreshed)
	if err != nil {
		s.logFailure(ctx, run, "scheduler.score.refresh.failed", 0, err)
		return err
	}
	return nil
}
