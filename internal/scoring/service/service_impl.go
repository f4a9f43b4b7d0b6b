package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/config"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/scoring/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	EventRepo    eventdomain.Repository
	EngineConfig *config.EngineConfigHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	eventRepo eventdomain.Repository
	engine    *config.EngineConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("scoring.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		eventRepo: p.EventRepo,
		engine:    p.EngineConfig,
	}
}

func (s *Service) Get(ctx context.Context, entityID string) (domain.LeadScore, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.LeadScore{}, domain.ErrInvalidOrganization
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return domain.LeadScore{}, domain.ErrInvalidEntityID
	}
	score, err := s.repo.FindByEntity(ctx, s.db, orgID, entityID, false)
	if err != nil {
		return domain.LeadScore{}, err
	}
	if score != nil {
		return *score, nil
	}
	return s.recompute(ctx, orgID, eventdomain.EntityTypeContact, entityID)
}

func (s *Service) Recompute(ctx context.Context, entityType, entityID string) (domain.LeadScore, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.LeadScore{}, domain.ErrInvalidOrganization
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return domain.LeadScore{}, domain.ErrInvalidEntityID
	}
	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		entityType = eventdomain.EntityTypeContact
	}
	return s.recompute(ctx, orgID, entityType, entityID)
}

func (s *Service) recompute(ctx context.Context, orgID snowflake.ID, entityType, entityID string) (domain.LeadScore, error) {
	now := s.clock.Now().UTC()
	scoring := s.engine.Get().Scoring

	var result domain.LeadScore
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		base, lastActivity, err := s.computeBase(ctx, tx, orgID, entityID, scoring, now)
		if err != nil {
			return err
		}
		existing, err := s.repo.FindByEntity(ctx, tx, orgID, entityID, true)
		if err != nil {
			return err
		}

		score := s.newScore(orgID, entityType, entityID, now)
		if existing != nil {
			score = *existing
		}
		score.BaseScore = base
		score.Score = domain.Clamp(base + score.Adjustment)
		score.Tier = domain.TierFor(score.Score)
		score.LastActivityAt = lastActivity
		score.ComputedAt = now
		score.UpdatedAt = now

		if err := s.save(ctx, tx, &score, existing != nil); err != nil {
			return err
		}
		result = score
		return nil
	})
	if err != nil {
		return domain.LeadScore{}, err
	}
	return result, nil
}

func (s *Service) computeBase(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, entityID string, scoring config.ScoringConfig, now time.Time) (int, *time.Time, error) {
	types := domain.ScoredEventTypes(scoring)
	counts, err := s.eventRepo.CountByType(ctx, tx, orgID, entityID, types)
	if err != nil {
		return 0, nil, err
	}
	lastActivity, err := s.eventRepo.LatestOccurredAt(ctx, tx, orgID, entityID, types)
	if err != nil {
		return 0, nil, err
	}
	return domain.ComputeBase(scoring, counts, lastActivity, now), lastActivity, nil
}

func (s *Service) save(ctx context.Context, tx *gorm.DB, score *domain.LeadScore, exists bool) error {
	if exists {
		return s.repo.Update(ctx, tx, score)
	}
	return s.repo.Upsert(ctx, tx, score)
}

func (s *Service) newScore(orgID snowflake.ID, entityType, entityID string, now time.Time) domain.LeadScore {
	return domain.LeadScore{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		EntityID:   entityID,
		EntityType: entityType,
		Tier:       domain.TierCold,
		CreatedAt:  now,
	}
}

// Adjust applies a manual delta on top of the current score. The adjustment
// is stored relative to the event-derived base so later recomputes keep it.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (domain.LeadScore, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.LeadScore{}, domain.ErrInvalidOrganization
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return domain.LeadScore{}, domain.ErrInvalidEntityID
	}
	if req.Delta == 0 {
		return domain.LeadScore{}, domain.ErrInvalidDelta
	}
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		entityType = eventdomain.EntityTypeContact
	}

	now := s.clock.Now().UTC()
	scoring := s.engine.Get().Scoring

	var result domain.LeadScore
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEntity(ctx, tx, orgID, entityID, true)
		if err != nil {
			return err
		}
		var score domain.LeadScore
		if existing != nil {
			score = *existing
		} else {
			base, lastActivity, err := s.computeBase(ctx, tx, orgID, entityID, scoring, now)
			if err != nil {
				return err
			}
			score = s.newScore(orgID, entityType, entityID, now)
			score.BaseScore = base
			score.Score = base
			score.LastActivityAt = lastActivity
			score.ComputedAt = now
		}

		score.Score = domain.Clamp(score.Score + req.Delta)
		score.Adjustment = score.Score - score.BaseScore
		score.Tier = domain.TierFor(score.Score)
		score.UpdatedAt = now

		if err := s.save(ctx, tx, &score, existing != nil); err != nil {
			return err
		}
		result = score
		return nil
	})
	if err != nil {
		return domain.LeadScore{}, err
	}

	s.log.Info("score adjusted",
		zap.String("org_id", orgID.String()),
		zap.String("entity_id", entityID),
		zap.Int("delta", req.Delta),
		zap.Int("score", result.Score),
		zap.String("tier", string(result.Tier)),
	)
	return result, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}
	filter := domain.ListFilter{}
	if req.Tier != "" {
		if !req.Tier.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidTier
		}
		filter.Tier = req.Tier
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		afterID, _, err := cursor.After()
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.AfterID = snowflake.ID(afterID)
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(sc *domain.LeadScore) pagination.Cursor {
		return pagination.NewCursor(int64(sc.ID), sc.CreatedAt)
	})
	scores := make([]domain.LeadScore, 0, len(items))
	for _, item := range items {
		scores = append(scores, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Scores: scores}, nil
}

func (s *Service) RefreshStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	stale, err := s.repo.ListStale(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, item := range stale {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.recompute(ctx, item.OrgID, item.EntityType, item.EntityID); err != nil {
			s.log.Warn("score refresh failed",
				zap.String("org_id", item.OrgID.String()),
				zap.String("entity_id", item.EntityID),
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
