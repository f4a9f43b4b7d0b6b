package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/ratelimit"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobAdvanceEnrollments = "advance_enrollments"
	JobScoreRefresh       = "score_refresh"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Engine  workflowdomain.Advancer
	Repo    workflowdomain.Repository
	Scores  scoringdomain.Service
	Locker  *ratelimit.Locker            `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
	Config  Config                       `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	engine  workflowdomain.Advancer
	repo    workflowdomain.Repository
	scores  scoringdomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Engine == nil || p.Repo == nil || p.Scores == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		engine:  p.Engine,
		repo:    p.Repo,
		scores:  p.Scores,
		locker:  p.Locker,
		metrics: metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, ok := s.acquireJobLock(ctx, name, timeout)
	if !ok {
		s.metrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLocked)
		s.logger(ctx).Debug("scheduler.job.locked", zap.String("job", name))
		return nil
	}
	defer release()

	ctx, run, owner := s.beginRun(ctx, name, batchSize)
	log := run.log
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && !run.failed() {
			run.IncError()
		}
		s.endRun(run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; leftover work is picked up next cycle
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one poll cycle of every enabled job.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobAdvanceEnrollments, s.isJobEnabled(JobAdvanceEnrollments), func(ctx context.Context) error {
			return s.runJob(ctx, JobAdvanceEnrollments, s.cfg.BatchSize, s.cfg.JobTimeout, s.AdvanceEnrollmentsJob)
		}},
		{JobScoreRefresh, s.isJobEnabled(JobScoreRefresh), func(ctx context.Context) error {
			return s.runJob(ctx, JobScoreRefresh, s.cfg.ScoreBatchSize, s.cfg.JobTimeout, s.ScoreRefreshJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty list runs every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
