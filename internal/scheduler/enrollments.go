package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/engine"
	"github.com/smallbiznis/sequencer/pkg/db"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AdvanceEnrollmentsJob claims due enrollments in batches and ticks each one
// on a bounded worker pool. The cycle is skipped when the store is down.
func (s *Scheduler) AdvanceEnrollmentsJob(ctx context.Context) error {
	ctx, run, owner := s.beginRun(ctx, JobAdvanceEnrollments, s.cfg.BatchSize)
	if owner {
		defer s.endRun(run)
	}

	if err := db.Ping(ctx, s.db); err != nil {
		s.metrics.IncCycleSkipped()
		s.logger(ctx).Warn("scheduler.cycle.skipped",
			zap.String("job", JobAdvanceEnrollments),
			zap.String("reason", obsmetrics.ErrStoreUnavailable.Error()),
			zap.Error(err),
		)
		return nil
	}

	var jobErr error
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		claimed, err := s.advanceBatch(ctx, run)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		if claimed == 0 {
			break
		}
	}
	return jobErr
}

func (s *Scheduler) advanceBatch(ctx context.Context, run *jobRun) (int, error) {
	now := s.clock.Now()
	token := ulid.Make().String()

	claimStart := time.Now()
	claimed, err := s.repo.ClaimDue(ctx, s.db, now, s.cfg.BatchSize, now.Add(s.cfg.LeaseDuration), token)
	s.metrics.ObserveClaimWait(time.Since(claimStart))
	if err != nil {
		s.logFailure(ctx, run, "scheduler.enrollment.claim.failed", 0, err)
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		batchErr error
		advanced int
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, e := range claimed {
		g.Go(func() error {
			err := s.advanceOne(ctx, e, token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				advanced++
			case errors.Is(err, engine.ErrLeaseLost):
				s.metrics.IncBatchDeferred(JobAdvanceEnrollments, obsmetrics.SchedulerBatchDeferredReasonLeaseLost)
				s.logger(withOrg(ctx, e.OrgID)).Debug("scheduler.enrollment.lease_lost",
					zap.String("enrollment_id", e.ID.String()),
				)
			default:
				batchErr = errors.Join(batchErr, err)
				s.logFailure(ctx, run, "scheduler.enrollment.advance.failed", e.OrgID, err,
					zap.String("enrollment_id", e.ID.String()),
					zap.String("workflow_id", e.WorkflowID.String()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	run.AddProcessed(advanced)
	s.metrics.AddBatchProcessed(JobAdvanceEnrollments, obsmetrics.ResourceEnrollments, advanced)
	return len(claimed), batchErr
}

func (s *Scheduler) advanceOne(ctx context.Context, e *workflowdomain.Enrollment, token string) (err error) {
	// one broken enrollment must not take the worker pool down
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("advance panicked: %v", r)
		}
	}()
	_, err = s.engine.Advance(ctx, e, token)
	return err
}
