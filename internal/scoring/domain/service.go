package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

type AdjustRequest struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Delta      int    `json:"delta"`
}

type ListRequest struct {
	Tier Tier
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Scores []LeadScore `json:"scores"`
}

type Service interface {
	// Get returns the stored score, computing it first if none exists.
	Get(ctx context.Context, entityID string) (LeadScore, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Adjust(ctx context.Context, req AdjustRequest) (LeadScore, error)
	Recompute(ctx context.Context, entityType, entityID string) (LeadScore, error)
	// RefreshStale recomputes up to limit scores last computed before cutoff.
	RefreshStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEntityID     = errors.New("invalid_entity_id")
	ErrInvalidTier         = errors.New("invalid_tier")
	ErrInvalidDelta        = errors.New("invalid_delta")
	ErrNotFound            = errors.New("score_not_found")
)
