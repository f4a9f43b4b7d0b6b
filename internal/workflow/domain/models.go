// Package domain defines versioned workflow definitions and the enrollment
// state machine that walks an entity through one pinned version.
package domain

import (
	"database/sql/driver"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowArchived WorkflowStatus = "archived"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowDraft, WorkflowActive, WorkflowPaused, WorkflowArchived:
		return true
	default:
		return false
	}
}

// CanTransitionTo lists the allowed workflow lifecycle moves.
func (s WorkflowStatus) CanTransitionTo(next WorkflowStatus) bool {
	switch s {
	case WorkflowDraft:
		return next == WorkflowActive || next == WorkflowArchived
	case WorkflowActive:
		return next == WorkflowPaused || next == WorkflowArchived
	case WorkflowPaused:
		return next == WorkflowActive || next == WorkflowArchived
	default:
		return false
	}
}

// TriggerList stores event types as a native text array on postgres and as
// the array literal in a text column on other dialects.
type TriggerList pq.StringArray

func (TriggerList) GormDataType() string { return "text" }

func (TriggerList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

func (t TriggerList) Value() (driver.Value, error) {
	return pq.StringArray(t).Value()
}

func (t *TriggerList) Scan(src any) error {
	return (*pq.StringArray)(t).Scan(src)
}

// Definition is one immutable version of a workflow. WorkflowID is stable
// across versions; Status is workflow-wide and kept in sync on every row.
type Definition struct {
	ID                snowflake.ID              `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID              `gorm:"not null;uniqueIndex:ux_workflow_version,priority:1;index:ix_workflow_latest,priority:1" json:"organization_id"`
	WorkflowID        snowflake.ID              `gorm:"not null;uniqueIndex:ux_workflow_version,priority:2" json:"workflow_id"`
	Version           int                       `gorm:"not null;uniqueIndex:ux_workflow_version,priority:3" json:"version"`
	IsLatest          bool                      `gorm:"not null;index:ix_workflow_latest,priority:2" json:"is_latest"`
	Key               string                    `gorm:"type:text;not null" json:"key"`
	Name              string                    `gorm:"type:text;not null" json:"name"`
	Description       string                    `gorm:"type:text" json:"description,omitempty"`
	Status            WorkflowStatus            `gorm:"type:text;not null;index:ix_workflow_latest,priority:3" json:"status"`
	EntityType        string                    `gorm:"type:text;not null" json:"entity_type"`
	TriggerEventTypes TriggerList               `json:"trigger_event_types"`
	Graph             datatypes.JSONType[Graph] `gorm:"not null" json:"definition"`
	CreatedAt         time.Time                 `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                 `gorm:"not null" json:"updated_at"`
}

func (Definition) TableName() string { return "workflow_definitions" }

// Triggers reports whether an event type enrolls entities into the workflow.
func (d Definition) Triggers(eventType string) bool {
	for _, t := range d.TriggerEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentStopped   EnrollmentStatus = "stopped"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentActive, EnrollmentPaused, EnrollmentStopped, EnrollmentCompleted:
		return true
	default:
		return false
	}
}

func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStopped || s == EnrollmentCompleted
}

const (
	PauseReasonManual   = "manual"
	PauseReasonWorkflow = "workflow"
)

const MaxPathEntries = 100

// PathEntry records one visit to a node.
type PathEntry struct {
	NodeID    string     `json:"node_id"`
	NodeType  NodeType   `json:"node_type"`
	EnteredAt time.Time  `json:"entered_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Result    string     `json:"result,omitempty"`
}

// Enrollment is one entity's progress through one pinned workflow version.
// ActiveKey is set while the enrollment is non-terminal; the unique index on
// (org_id, active_key) allows a single live journey per workflow and entity.
type Enrollment struct {
	ID               snowflake.ID                   `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID                   `gorm:"not null;uniqueIndex:ux_enrollment_active,priority:1;index:ix_enrollment_entity,priority:1" json:"organization_id"`
	WorkflowID       snowflake.ID                   `gorm:"not null;index" json:"workflow_id"`
	DefinitionID     snowflake.ID                   `gorm:"not null" json:"definition_id"`
	WorkflowVersion  int                            `gorm:"not null" json:"workflow_version"`
	EntityType       string                         `gorm:"type:text;not null" json:"entity_type"`
	EntityID         string                         `gorm:"type:text;not null;index:ix_enrollment_entity,priority:2" json:"entity_id"`
	CurrentNodeID    string                         `gorm:"type:text;not null" json:"current_node_id"`
	Status           EnrollmentStatus               `gorm:"type:text;not null;index:ix_enrollment_due,priority:1" json:"status"`
	Outcome          *string                        `gorm:"type:text" json:"outcome,omitempty"`
	LastError        string                         `gorm:"type:text;not null;default:''" json:"last_error,omitempty"`
	PauseReason      string                         `gorm:"type:text;not null;default:''" json:"pause_reason,omitempty"`
	ActiveKey        *string                        `gorm:"type:text;uniqueIndex:ux_enrollment_active,priority:2" json:"-"`
	EnteredAt        time.Time                      `gorm:"not null" json:"entered_at"`
	NodeEnteredAt    time.Time                      `gorm:"not null" json:"node_entered_at"`
	LastTransitionAt time.Time                      `gorm:"not null" json:"last_transition_at"`
	NextCheckAt      *time.Time                     `gorm:"index:ix_enrollment_due,priority:2" json:"next_check_at"`
	SendAttempts     int                            `gorm:"not null;default:0" json:"send_attempts"`
	StateSnapshot    datatypes.JSONMap              `json:"state_snapshot"`
	Path             datatypes.JSONSlice[PathEntry] `json:"path"`
	ClaimedUntil     *time.Time                     `json:"-"`
	ClaimToken       *string                        `gorm:"type:text" json:"-"`
	CompletedAt      *time.Time                     `json:"completed_at,omitempty"`
	CreatedAt        time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                      `gorm:"not null" json:"updated_at"`
}

func (Enrollment) TableName() string { return "workflow_enrollments" }

func ActiveKeyFor(workflowID snowflake.ID, entityID string) string {
	return workflowID.String() + ":" + entityID
}

// EnterNode closes the open path entry with result and opens one for node.
func (e *Enrollment) EnterNode(node Node, result string, now time.Time) {
	e.closePath(result, now)
	e.CurrentNodeID = node.ID
	e.NodeEnteredAt = now
	e.LastTransitionAt = now
	e.SendAttempts = 0
	e.LastError = ""
	e.Path = append(e.Path, PathEntry{NodeID: node.ID, NodeType: node.Type, EnteredAt: now})
	if len(e.Path) > MaxPathEntries {
		e.Path = append(datatypes.JSONSlice[PathEntry](nil), e.Path[len(e.Path)-MaxPathEntries:]...)
	}
}

// Finish moves the enrollment to its terminal status for outcome.
func (e *Enrollment) Finish(outcome Outcome, result string, now time.Time) {
	e.closePath(result, now)
	value := string(outcome)
	e.Outcome = &value
	e.Status = outcome.Status()
	e.NextCheckAt = nil
	e.ActiveKey = nil
	e.LastTransitionAt = now
	e.CompletedAt = &now
}

func (e *Enrollment) closePath(result string, now time.Time) {
	if len(e.Path) == 0 {
		return
	}
	last := &e.Path[len(e.Path)-1]
	if last.ExitedAt != nil {
		return
	}
	last.ExitedAt = &now
	last.Result = result
}

func (e *Enrollment) Snapshot(key string) (string, bool) {
	if e.StateSnapshot == nil {
		return "", false
	}
	value, ok := e.StateSnapshot[key].(string)
	return value, ok && value != ""
}

func (e *Enrollment) SetSnapshot(key string, value any) {
	if e.StateSnapshot == nil {
		e.StateSnapshot = datatypes.JSONMap{}
	}
	e.StateSnapshot[key] = value
}
