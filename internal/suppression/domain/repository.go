package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Reason       Reason
	Email        string
	AfterID      snowflake.ID
	AfterCreated *time.Time
	Limit        int
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (*Entry, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Entry, error)
	// DeleteExpired removes the entry only if it has expired at now.
	DeleteExpired(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error)
	DeleteByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (bool, error)
	DeleteByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Entry, error)
}
