package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// QueryFilter selects an entity's events. From is inclusive, To is inclusive.
type QueryFilter struct {
	EntityID   string
	EventTypes []string
	From       *time.Time
	To         *time.Time
	AfterID    snowflake.ID
	AfterTime  *time.Time
	Limit      int
}

// WindowFilter counts events in the half-open window (After, Until].
type WindowFilter struct {
	EventType       string
	Recipient       string
	RecipientDomain string
	After           time.Time
	Until           time.Time
}

type Repository interface {
	// Insert returns false when the dedupe key already exists.
	Insert(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Event, error)
	Query(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter QueryFilter) ([]*Event, error)
	CountInWindow(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter WindowFilter) (int64, error)
	CountByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityID string, eventTypes []string) (map[string]int64, error)
	LatestOccurredAt(ctx context.Context, db *gorm.DB, orgID snowflake.ID, entityID string, eventTypes []string) (*time.Time, error)
}
