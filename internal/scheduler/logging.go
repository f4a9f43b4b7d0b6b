package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/sequencer/internal/observability/context"
	obslogger "github.com/smallbiznis/sequencer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a scheduler job. Nested calls (runJob
// wrapping a job function) share the run stored in the context.
type jobRun struct {
	job       string
	id        string
	batchSize int
	startedAt time.Time
	log       *zap.Logger

	processed atomic.Int64
	errors    atomic.Int64
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed.Add(int64(n))
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors.Add(1)
	}
}

func (r *jobRun) failed() bool {
	return r != nil && r.errors.Load() > 0
}

// beginRun returns the run already carried by ctx, or starts a new one.
// owner reports whether the caller started it and so must log its end.
func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (_ context.Context, run *jobRun, owner bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok && run != nil {
		return ctx, run, false
	}

	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	run = &jobRun{
		job:       job,
		id:        s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	run.log = s.logger(ctx).With(
		zap.String("job", job),
		zap.String("run_id", run.id),
	)
	run.log.Info("scheduler.job.start", zap.Int("batch_size", batchSize))
	return context.WithValue(ctx, jobRunKey{}, run), run, true
}

// endRun logs the run summary. Runs with errors are logged at warn level.
func (s *Scheduler) endRun(run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", run.processed.Load()),
		zap.Int64("error_count", run.errors.Load()),
	}
	if run.failed() {
		run.log.Warn("scheduler.job.finish", fields...)
		return
	}
	run.log.Info("scheduler.job.finish", fields...)
}

func withOrg(ctx context.Context, orgID snowflake.ID) context.Context {
	if orgID == 0 {
		return ctx
	}
	return obscontext.WithOrgID(ctx, orgID.String())
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

// logFailure counts the error against the run and logs it with its
// classification.
func (s *Scheduler) logFailure(ctx context.Context, run *jobRun, msg string, orgID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()

	log := s.logger(withOrg(ctx, orgID))
	if run != nil {
		log = log.With(zap.String("job", run.job), zap.String("run_id", run.id))
	}
	log.Error(msg, append([]zap.Field{
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}, fields...)...)
}
