package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DefinitionFilter struct {
	Status  WorkflowStatus
	AfterID snowflake.ID
	Limit   int
}

type EnrollmentFilter struct {
	Status     EnrollmentStatus
	WorkflowID snowflake.ID
	EntityID   string
	AfterID    snowflake.ID
	Limit      int
}

type DefinitionRepository interface {
	InsertDefinition(ctx context.Context, db *gorm.DB, def *Definition) error
	ClearLatest(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID) error
	FindLatest(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID, forUpdate bool) (*Definition, error)
	FindVersion(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID, version int) (*Definition, error)
	FindDefinitionByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Definition, error)
	ListVersions(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID) ([]*Definition, error)
	ListLatest(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter DefinitionFilter) ([]*Definition, error)
	UpdateWorkflowStatus(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID, status WorkflowStatus, now time.Time) error
}

type EnrollmentRepository interface {
	// InsertEnrollment returns false when a live enrollment already holds the
	// same active key.
	InsertEnrollment(ctx context.Context, db *gorm.DB, e *Enrollment) (bool, error)
	FindEnrollment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Enrollment, error)
	FindByActiveKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Enrollment, error)
	ListEnrollments(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter EnrollmentFilter) ([]*Enrollment, error)

	// ClaimDue leases up to limit due enrollments across tenants to token.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int, leaseUntil time.Time, token string) ([]*Enrollment, error)
	// Commit writes the result of one tick if the caller still holds the
	// lease. A concurrent pause or stop keeps its status.
	Commit(ctx context.Context, db *gorm.DB, e *Enrollment, token string, now time.Time) (bool, error)

	Pause(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, reason string, now time.Time) (bool, error)
	Resume(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, now time.Time) (bool, error)
	Stop(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, outcome Outcome, now time.Time) (bool, error)
	PauseByWorkflow(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID, now time.Time) (int64, error)
	ResumeByWorkflow(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID, now time.Time) (int64, error)
	ListLiveByWorkflow(ctx context.Context, db *gorm.DB, orgID, workflowID snowflake.ID) ([]*Enrollment, error)
}

type Repository interface {
	DefinitionRepository
	EnrollmentRepository
}
