package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/scoring/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByEntity(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, entityID string, forUpdate bool) (*domain.LeadScore, error) {
	stmt := tx.WithContext(ctx).Where("org_id = ? AND entity_id = ?", orgID, entityID)
	if forUpdate && db.IsPostgres(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var score domain.LeadScore
	if err := stmt.First(&score).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &score, nil
}

func (r *repo) Upsert(ctx context.Context, tx *gorm.DB, score *domain.LeadScore) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"score",
				"tier",
				"base_score",
				"adjustment",
				"last_activity_at",
				"computed_at",
				"updated_at",
			}),
		}).
		Create(score).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, score *domain.LeadScore) error {
	return tx.WithContext(ctx).
		Model(&domain.LeadScore{}).
		Where("org_id = ? AND id = ?", score.OrgID, score.ID).
		Updates(map[string]any{
			"score":            score.Score,
			"tier":             score.Tier,
			"base_score":       score.BaseScore,
			"adjustment":       score.Adjustment,
			"last_activity_at": score.LastActivityAt,
			"computed_at":      score.ComputedAt,
			"updated_at":       score.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.LeadScore, error) {
	stmt := tx.WithContext(ctx).
		Model(&domain.LeadScore{}).
		Where("org_id = ?", orgID)
	if filter.Tier != "" {
		stmt = stmt.Where("tier = ?", filter.Tier)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}

	var scores []*domain.LeadScore
	err := stmt.
		Order("id desc").
		Limit(filter.Limit).
		Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *repo) ListStale(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]*domain.LeadScore, error) {
	var scores []*domain.LeadScore
	err := tx.WithContext(ctx).
		Where("computed_at < ?", cutoff.UTC()).
		Order("computed_at asc, id asc").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}
