package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDefinition(ctx context.Context, tx *gorm.DB, def *domain.Definition) error {
	return tx.WithContext(ctx).Create(def).Error
}

func (r *repo) ClearLatest(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID) error {
	return tx.WithContext(ctx).
		Model(&domain.Definition{}).
		Where("org_id = ? AND workflow_id = ? AND is_latest = ?", orgID, workflowID, true).
		Update("is_latest", false).Error
}

func (r *repo) FindLatest(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, forUpdate bool) (*domain.Definition, error) {
	stmt := tx.WithContext(ctx).
		Where("org_id = ? AND workflow_id = ? AND is_latest = ?", orgID, workflowID, true)
	if forUpdate && db.IsPostgres(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return firstDefinition(stmt)
}

func (r *repo) FindVersion(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, version int) (*domain.Definition, error) {
	stmt := tx.WithContext(ctx).
		Where("org_id = ? AND workflow_id = ? AND version = ?", orgID, workflowID, version)
	return firstDefinition(stmt)
}

func (r *repo) FindDefinitionByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Definition, error) {
	stmt := tx.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id)
	return firstDefinition(stmt)
}

func firstDefinition(stmt *gorm.DB) (*domain.Definition, error) {
	var def domain.Definition
	if err := stmt.First(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (r *repo) ListVersions(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID) ([]*domain.Definition, error) {
	var defs []*domain.Definition
	err := tx.WithContext(ctx).
		Where("org_id = ? AND workflow_id = ?", orgID, workflowID).
		Order("version desc").
		Find(&defs).Error
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repo) ListLatest(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, filter domain.DefinitionFilter) ([]*domain.Definition, error) {
	stmt := tx.WithContext(ctx).
		Model(&domain.Definition{}).
		Where("org_id = ? AND is_latest = ?", orgID, true)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("workflow_id < ?", filter.AfterID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var defs []*domain.Definition
	if err := stmt.Order("workflow_id desc").Find(&defs).Error; err != nil {
		return nil, err
	}
	return defs, nil
}

func (r *repo) UpdateWorkflowStatus(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, status domain.WorkflowStatus, now time.Time) error {
	return tx.WithContext(ctx).
		Model(&domain.Definition{}).
		Where("org_id = ? AND workflow_id = ?", orgID, workflowID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": now.UTC(),
		}).Error
}
