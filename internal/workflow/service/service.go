package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Activity crmdomain.ActivitySink `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	activity crmdomain.ActivitySink
	metrics  *obsmetrics.SchedulerMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("workflow.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		activity: p.Activity,
		metrics:  obsmetrics.Scheduler(),
	}
}

func (s *Service) publishOutcome(ctx context.Context, e domain.Enrollment) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Publish(ctx, domain.OutcomeActivity(e)); err != nil {
		s.log.Warn("publish enrollment outcome failed",
			zap.String("enrollment_id", e.ID.String()),
			zap.Error(err),
		)
	}
}
