package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/suppression/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "expires_at", "updated_at"}),
		}).
		Create(entry).Error
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("org_id = ? AND email = ?", orgID, email).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Where("org_id = ? AND id = ? AND expires_at IS NOT NULL AND expires_at <= ?", orgID, id, now.UTC()).
		Delete(&domain.Entry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (bool, error) {
	result := db.WithContext(ctx).
		Where("org_id = ? AND email = ?", orgID, email).
		Delete(&domain.Entry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) DeleteByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Entry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Entry{}).
		Where("org_id = ?", orgID)
	if filter.Reason != "" {
		stmt = stmt.Where("reason = ?", filter.Reason)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.AfterCreated != nil {
		stmt = stmt.Where("(created_at < ? OR (created_at = ? AND id < ?))", filter.AfterCreated.UTC(), filter.AfterCreated.UTC(), filter.AfterID)
	}

	var entries []*domain.Entry
	err := stmt.
		Order("created_at desc, id desc").
		Limit(filter.Limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
