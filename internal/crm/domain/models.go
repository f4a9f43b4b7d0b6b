// Package domain describes the slice of the CRM the sequencing engine reads
// and the activity records it writes back.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Contact mirrors the CRM-owned crm_contacts table. The engine never writes it.
type Contact struct {
	ID         string       `gorm:"primaryKey;type:text"`
	OrgID      snowflake.ID `gorm:"primaryKey"`
	Email      string       `gorm:"type:text"`
	FirstName  string       `gorm:"type:text"`
	LastName   string       `gorm:"type:text"`
	Company    string       `gorm:"type:text"`
	Stage      string       `gorm:"type:text"`
	Attributes datatypes.JSONMap
	UpdatedAt  time.Time
}

func (Contact) TableName() string { return "crm_contacts" }

// Entity is the resolved, read-only view handed to the workflow engine.
type Entity struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	OrgID  snowflake.ID      `json:"organization_id"`
	Email  string            `json:"email"`
	Domain string            `json:"domain"`
	Fields map[string]string `json:"fields"`
}

// Field looks up a named attribute; well-known columns win over free-form ones.
func (e Entity) Field(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "email":
		return e.Email, e.Email != ""
	case "domain":
		return e.Domain, e.Domain != ""
	}
	value, ok := e.Fields[name]
	return value, ok
}

type Resolver interface {
	Resolve(ctx context.Context, orgID snowflake.ID, entityType, entityID string) (*Entity, error)
}

type ActivityType string

const ActivityEnrollmentOutcome ActivityType = "enrollment_outcome"

// Activity is a typed entry for the CRM timeline, linked to one entity.
type Activity struct {
	Type         ActivityType `json:"type"`
	OrgID        string       `json:"organization_id"`
	EntityType   string       `json:"entity_type"`
	EntityID     string       `json:"entity_id"`
	WorkflowID   string       `json:"workflow_id"`
	EnrollmentID string       `json:"enrollment_id"`
	Outcome      string       `json:"outcome"`
	Detail       string       `json:"detail,omitempty"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

type ActivitySink interface {
	Publish(ctx context.Context, activity Activity) error
}

var ErrEntityNotFound = errors.New("entity_not_found")
