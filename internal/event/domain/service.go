package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

type IngestRequest struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Source     string          `json:"source"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	DedupeKey  string          `json:"dedupe_key"`
}

type IngestResult struct {
	Event        Event `json:"event"`
	Deduplicated bool  `json:"deduplicated"`
}

type QueryRequest struct {
	EntityID   string
	EventTypes []string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type ListRequest struct {
	EntityID  string
	EventType string
	From      *time.Time
	To        *time.Time
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

type Service interface {
	Ingest(context.Context, IngestRequest) (IngestResult, error)
	Query(context.Context, QueryRequest) ([]Event, error)
	List(context.Context, ListRequest) (ListResponse, error)
}

// Subscriber reacts to newly stored events. Duplicates are never delivered.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEventType    = errors.New("invalid_event_type")
	ErrInvalidEntityType   = errors.New("invalid_entity_type")
	ErrInvalidEntityID     = errors.New("invalid_entity_id")
	ErrInvalidOccurredAt   = errors.New("invalid_occurred_at")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidDedupeKey    = errors.New("invalid_dedupe_key")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
)
