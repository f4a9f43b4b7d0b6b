package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Tier    Tier
	AfterID snowflake.ID
	Limit   int
}

type Repository interface {
	FindByEntity(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityID string, forUpdate bool) (*LeadScore, error)
	// Upsert inserts a new score row, updating it if a concurrent writer won.
	Upsert(ctx context.Context, db *gorm.DB, score *LeadScore) error
	Update(ctx context.Context, db *gorm.DB, score *LeadScore) error
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*LeadScore, error)
	// ListStale scans every tenant; used by the refresh job only.
	ListStale(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*LeadScore, error)
}
