// Package engine advances claimed enrollments through their pinned
// workflow version, one tick at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/cache"
	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/config"
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	obscontext "github.com/smallbiznis/sequencer/internal/observability/context"
	obslogger "github.com/smallbiznis/sequencer/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/providers/email"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrLeaseLost is returned when the tick's result could not be written
// because another worker or an expired lease took the enrollment over.
var ErrLeaseLost = errors.New("enrollment_lease_lost")

const (
	definitionCacheTTL = 10 * time.Minute
	sourceEngine       = "sequencer"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Cfg          config.Config
	EngineConfig *config.EngineConfigHolder
	Repo         domain.Repository
	EventRepo    eventdomain.Repository
	Events       eventdomain.Service
	Gate         suppressiondomain.Service
	Scores       scoringdomain.Service
	Sender       email.Provider
	Resolver     crmdomain.Resolver     `optional:"true"`
	Activity     crmdomain.ActivitySink `optional:"true"`
	Metrics      *obsmetrics.Metrics    `optional:"true"`
}

type Engine struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	from      string
	fromName  string
	engineCfg *config.EngineConfigHolder
	repo      domain.Repository
	eventRepo eventdomain.Repository
	events    eventdomain.Service
	gate      suppressiondomain.Service
	scores    scoringdomain.Service
	sender    email.Provider
	resolver  crmdomain.Resolver
	activity  crmdomain.ActivitySink
	metrics   *obsmetrics.Metrics
	scheduler *obsmetrics.SchedulerMetrics
	tracer    trace.Tracer
	graphs    cache.Cache[snowflake.ID, domain.Graph]
}

func New(p Params) *Engine {
	return &Engine{
		db:        p.DB,
		log:       p.Log.Named("workflow.engine"),
		clock:     p.Clock,
		from:      p.Cfg.Email.From,
		fromName:  p.Cfg.Email.FromName,
		engineCfg: p.EngineConfig,
		repo:      p.Repo,
		eventRepo: p.EventRepo,
		events:    p.Events,
		gate:      p.Gate,
		scores:    p.Scores,
		sender:    p.Sender,
		resolver:  p.Resolver,
		activity:  p.Activity,
		metrics:   p.Metrics,
		scheduler: obsmetrics.Scheduler(),
		tracer:    otel.Tracer("sequencer/workflow"),
		graphs:    cache.NewTTLCache[snowflake.ID, domain.Graph](),
	}
}

// Advance runs one tick for an enrollment claimed under token and commits
// the result. Immediate nodes chain within the tick; email and wait nodes
// end it.
func (en *Engine) Advance(ctx context.Context, e *domain.Enrollment, token string) (domain.Enrollment, error) {
	ctx = orgcontext.WithOrgID(ctx, int64(e.OrgID))
	ctx = obscontext.WithOrgID(ctx, e.OrgID.String())
	ctx, span := en.tracer.Start(ctx, "workflow.tick", trace.WithAttributes(
		attribute.String("enrollment.id", e.ID.String()),
		attribute.String("workflow.id", e.WorkflowID.String()),
		attribute.Int("workflow.version", e.WorkflowVersion),
	))
	defer span.End()

	result, err := en.advance(ctx, e, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
	}
	return result, err
}

func (en *Engine) advance(ctx context.Context, e *domain.Enrollment, token string) (domain.Enrollment, error) {
	graph, err := en.graph(ctx, e.OrgID, e.DefinitionID)
	if err != nil {
		return domain.Enrollment{}, err
	}

	t := &tick{
		engine: en,
		graph:  graph,
		e:      *e,
		now:    en.clock.Now().UTC(),
		log: obslogger.WithEnrollment(obslogger.WithContext(ctx, en.log),
			e.WorkflowID.String(), e.ID.String(), e.WorkflowVersion),
	}
	from := t.e.Status
	if err := t.run(ctx); err != nil {
		return domain.Enrollment{}, err
	}

	ok, err := en.repo.Commit(ctx, en.db, &t.e, token, t.now)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if !ok {
		return domain.Enrollment{}, ErrLeaseLost
	}

	if t.e.Status != from {
		en.scheduler.IncEnrollmentTransition(string(from), string(t.e.Status))
	}
	if t.e.Status.Terminal() {
		t.log.Info("enrollment finished",
			zap.String("outcome", derefString(t.e.Outcome)),
			zap.String("last_error", t.e.LastError),
		)
		en.metrics.RecordEnrollmentOutcome(ctx, derefString(t.e.Outcome))
		en.publish(ctx, t.log, t.e)
	}
	return t.e, nil
}

// graph loads the pinned definition. Versions are immutable, so cached
// graphs never go stale.
func (en *Engine) graph(ctx context.Context, orgID, definitionID snowflake.ID) (domain.Graph, error) {
	if g, ok := en.graphs.Get(definitionID); ok {
		return g, nil
	}
	def, err := en.repo.FindDefinitionByID(ctx, en.db, orgID, definitionID)
	if err != nil {
		return domain.Graph{}, err
	}
	if def == nil {
		return domain.Graph{}, fmt.Errorf("%w: definition %s", domain.ErrWorkflowNotFound, definitionID)
	}
	g := def.Graph.Data()
	en.graphs.Set(definitionID, g, definitionCacheTTL)
	return g, nil
}

func (en *Engine) publish(ctx context.Context, log *zap.Logger, e domain.Enrollment) {
	if en.activity == nil {
		return
	}
	if err := en.activity.Publish(ctx, domain.OutcomeActivity(e)); err != nil {
		log.Warn("publish enrollment outcome failed", zap.Error(err))
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
