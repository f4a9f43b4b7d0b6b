package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

type CreateDefinitionRequest struct {
	// WorkflowID is set when saving a new version of an existing workflow.
	WorkflowID        string         `json:"workflow_id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	EntityType        string         `json:"entity_type"`
	TriggerEventTypes []string       `json:"trigger_event_types"`
	Status            WorkflowStatus `json:"status"`
	Definition        Graph          `json:"definition"`
}

type ListDefinitionsRequest struct {
	Status WorkflowStatus
	pagination.Pagination
}

type ListDefinitionsResponse struct {
	pagination.PageInfo
	Workflows []Definition `json:"workflows"`
}

type EnrollRequest struct {
	WorkflowID string         `json:"workflow_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Snapshot   map[string]any `json:"state_snapshot"`
}

// EnrollResult carries the live enrollment; Created is false when the entity
// was already enrolled and the call was a no-op.
type EnrollResult struct {
	Enrollment Enrollment `json:"enrollment"`
	Created    bool       `json:"created"`
}

type ListEnrollmentsRequest struct {
	Status     EnrollmentStatus
	WorkflowID string
	EntityID   string
	pagination.Pagination
}

type ListEnrollmentsResponse struct {
	pagination.PageInfo
	Enrollments []Enrollment `json:"enrollments"`
}

type Service interface {
	CreateDefinition(ctx context.Context, req CreateDefinitionRequest) (Definition, error)
	// GetDefinition returns a specific version, or the latest when version is 0.
	GetDefinition(ctx context.Context, workflowID string, version int) (Definition, error)
	ListVersions(ctx context.Context, workflowID string) ([]Definition, error)
	ListDefinitions(ctx context.Context, req ListDefinitionsRequest) (ListDefinitionsResponse, error)
	UpdateStatus(ctx context.Context, workflowID string, status WorkflowStatus) (Definition, error)

	Enroll(ctx context.Context, req EnrollRequest) (EnrollResult, error)
	GetEnrollment(ctx context.Context, id string) (Enrollment, error)
	ListEnrollments(ctx context.Context, req ListEnrollmentsRequest) (ListEnrollmentsResponse, error)
	Pause(ctx context.Context, id string) (Enrollment, error)
	Resume(ctx context.Context, id string) (Enrollment, error)
	Stop(ctx context.Context, id string) (Enrollment, error)
}

// Advancer runs one tick for an enrollment the caller has claimed with token.
type Advancer interface {
	Advance(ctx context.Context, e *Enrollment, token string) (Enrollment, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidWorkflowID   = errors.New("invalid_workflow_id")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEntityType   = errors.New("invalid_entity_type")
	ErrInvalidEntityID     = errors.New("invalid_entity_id")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidVersion      = errors.New("invalid_version")
	ErrInvalidDefinition   = errors.New("invalid_definition")
	ErrInvalidEnrollmentID = errors.New("invalid_enrollment_id")
	ErrInvalidTransition   = errors.New("invalid_transition")
	ErrWorkflowNotFound    = errors.New("workflow_not_found")
	ErrWorkflowNotActive   = errors.New("workflow_not_active")
	ErrEnrollmentNotFound  = errors.New("enrollment_not_found")
	ErrVersionConflict     = errors.New("version_conflict")
)
