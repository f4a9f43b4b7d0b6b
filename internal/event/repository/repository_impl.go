package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/event/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxQueryLimit = 5000

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Event, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var event domain.Event
	err := db.WithContext(ctx).
		Where("org_id = ? AND dedupe_key = ?", orgID, key).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repo) Query(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.QueryFilter) ([]*domain.Event, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("org_id = ?", orgID)
	if filter.EntityID != "" {
		stmt = stmt.Where("entity_id = ?", filter.EntityID)
	}
	if len(filter.EventTypes) > 0 {
		stmt = stmt.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.From != nil {
		stmt = stmt.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("occurred_at <= ?", filter.To.UTC())
	}
	if filter.AfterTime != nil {
		stmt = stmt.Where("(occurred_at > ? OR (occurred_at = ? AND id > ?))", filter.AfterTime.UTC(), filter.AfterTime.UTC(), filter.AfterID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var events []*domain.Event
	err := stmt.
		Order("occurred_at asc, id asc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) CountInWindow(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.WindowFilter) (int64, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("org_id = ? AND event_type = ?", orgID, filter.EventType).
		Where("occurred_at > ? AND occurred_at <= ?", filter.After.UTC(), filter.Until.UTC())
	switch {
	case filter.Recipient != "":
		stmt = stmt.Where("recipient = ?", filter.Recipient)
	case filter.RecipientDomain != "":
		stmt = stmt.Where("recipient_domain = ?", filter.RecipientDomain)
	default:
		return 0, errors.New("window filter requires recipient or recipient domain")
	}

	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) CountByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityID string, eventTypes []string) (map[string]int64, error) {
	if len(eventTypes) == 0 {
		return map[string]int64{}, nil
	}
	var rows []struct {
		EventType string
		Total     int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT event_type, COUNT(*) AS total
		 FROM events
		 WHERE org_id = ? AND entity_id = ? AND event_type IN ?
		 GROUP BY event_type`,
		orgID,
		entityID,
		eventTypes,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.EventType] = row.Total
	}
	return counts, nil
}

func (r *repo) LatestOccurredAt(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityID string, eventTypes []string) (*time.Time, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}
	var event domain.Event
	err := db.WithContext(ctx).
		Where("org_id = ? AND entity_id = ? AND event_type IN ?", orgID, entityID, eventTypes).
		Order("occurred_at desc, id desc").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	occurredAt := event.OccurredAt.UTC()
	return &occurredAt, nil
}
