package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// acquireJobLock keeps a job to one replica per cycle when redis is
// configured. Enrollment leases still guard each row, so a redis outage
// degrades to running unlocked.
func (s *Scheduler) acquireJobLock(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}
	lock, err := s.locker.TryLock(ctx, "scheduler:"+job, ttl)
	if err != nil {
		s.logger(ctx).Warn("scheduler.lock.failed",
			zap.String("job", job),
			zap.Error(err),
		)
		return noop, true
	}
	if lock == nil {
		return noop, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed",
				zap.String("job", job),
				zap.String("key", lock.Key()),
				zap.Error(err),
			)
		}
	}, true
}
