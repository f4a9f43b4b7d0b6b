package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/scheduler"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	h     *enginetest.Harness
	sched *scheduler.Scheduler
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, cfg scheduler.Config) fixture {
	t.Helper()
	h := enginetest.New(t)
	reg := prometheus.NewRegistry()
	sched, err := scheduler.New(scheduler.Params{
		DB:      h.DB,
		Log:     zap.NewNop(),
		GenID:   h.Node,
		Clock:   h.Clock,
		Engine:  h.Engine,
		Repo:    h.Repo,
		Scores:  h.Scores,
		Metrics: obsmetrics.NewSchedulerMetricsForTest(reg),
		Config:  cfg,
	})
	require.NoError(t, err)
	return fixture{h: h, sched: sched, reg: reg}
}

func (f fixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sequence() domain.Graph {
	return enginetest.Linear(
		enginetest.EmailNode("intro", "Hello"),
		enginetest.WaitNode("pause", 2),
		enginetest.EmailNode("follow_up", "Following up"),
	)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := scheduler.New(scheduler.Params{})
	assert.ErrorIs(t, err, scheduler.ErrInvalidConfig)
}

func TestRunOnceAdvancesDueEnrollments(t *testing.T) {
	f := newFixture(t, scheduler.Config{Workers: 3})
	h := f.h
	def := h.CreateActive(t, "Onboarding", sequence())

	ids := []string{"c1", "c2", "c3", "c4", "c5"}
	enrolled := make([]domain.Enrollment, 0, len(ids))
	for _, id := range ids {
		h.AddContact(t, id, id+"@example.com", nil)
		enrolled = append(enrolled, h.Enroll(t, def, id))
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, h.Sender.Messages(), len(ids))
	for _, e := range enrolled {
		got := h.Reload(t, e.ID)
		assert.Equal(t, "pause", got.CurrentNodeID)
		assert.Nil(t, got.ClaimToken)
	}

	// nothing is due until the wait elapses
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, h.Sender.Messages(), len(ids))

	h.Clock.Advance(48 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, h.Sender.Messages(), 2*len(ids))
	for _, e := range enrolled {
		got := h.Reload(t, e.ID)
		assert.Equal(t, domain.EnrollmentCompleted, got.Status)
	}
	assert.Equal(t, float64(3*len(ids)), f.counter(t, "sequencer_scheduler_batch_processed_total"))
}

func TestRunOnceSmallBatchesDrainBacklog(t *testing.T) {
	f := newFixture(t, scheduler.Config{BatchSize: 2, Workers: 1})
	h := f.h
	def := h.CreateActive(t, "Backlog", enginetest.Linear(enginetest.EmailNode("only", "Hi")))
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		h.AddContact(t, id, id+"@example.com", nil)
		h.Enroll(t, def, id)
	}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, h.Sender.Messages(), 5)
}

func TestRunOnceSkipsCycleWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t, scheduler.Config{EnabledJobs: []string{scheduler.JobAdvanceEnrollments}})
	h := f.h
	def := h.CreateActive(t, "Onboarding", sequence())
	h.AddContact(t, "c1", "c1@example.com", nil)
	h.Enroll(t, def, "c1")

	sqlDB, err := h.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, h.Sender.Messages())
	assert.Equal(t, float64(1), f.counter(t, "sequencer_scheduler_cycles_skipped_total"))
}

func TestRunOnceRespectsForeignLease(t *testing.T) {
	f := newFixture(t, scheduler.Config{LeaseDuration: time.Minute})
	h := f.h
	def := h.CreateActive(t, "Onboarding", sequence())
	h.AddContact(t, "c1", "c1@example.com", nil)
	e := h.Enroll(t, def, "c1")

	now := h.Clock.Now()
	claimed, err := h.Repo.ClaimDue(context.Background(), h.DB, now, 10, now.Add(2*time.Minute), "other-worker")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, h.Sender.Messages())

	h.Clock.Advance(3 * time.Minute)
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Len(t, h.Sender.Messages(), 1)
	assert.Equal(t, "pause", h.Reload(t, e.ID).CurrentNodeID)
}

func TestRunOnceHonoursJobFilter(t *testing.T) {
	f := newFixture(t, scheduler.Config{EnabledJobs: []string{" Score_Refresh "}})
	h := f.h
	def := h.CreateActive(t, "Onboarding", sequence())
	h.AddContact(t, "c1", "c1@example.com", nil)
	h.Enroll(t, def, "c1")

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, h.Sender.Messages())
	assert.Equal(t, float64(1), f.counter(t, "sequencer_scheduler_job_runs_total"))
}

func TestScoreRefreshAppliesRecencyDecay(t *testing.T) {
	f := newFixture(t, scheduler.Config{EnabledJobs: []string{scheduler.JobScoreRefresh}})
	h := f.h
	h.Ingest(t, "c1", eventdomain.EventEmailOpened, `{"email":"c1@example.com"}`)

	score, err := h.Scores.Get(h.Ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 10, score.Score)

	h.Clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	score, err = h.Scores.Get(h.Ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 8, score.Score)
	assert.Equal(t, scoringdomain.TierCold, score.Tier)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, scheduler.Config{RunInterval: 10 * time.Millisecond})
	h := f.h
	def := h.CreateActive(t, "Onboarding", sequence())
	h.AddContact(t, "c1", "c1@example.com", nil)
	h.Enroll(t, def, "c1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sched.RunForever(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(h.Sender.Messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}
