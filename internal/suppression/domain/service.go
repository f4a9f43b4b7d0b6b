package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/sequencer/pkg/db/pagination"
)

// CheckResult is the gate decision. Reason and ExpiresAt are set only when blocked.
type CheckResult struct {
	Allowed   bool       `json:"allowed"`
	Reason    Reason     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type SuppressRequest struct {
	Email     string     `json:"email"`
	Reason    Reason     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type BulkRequest struct {
	Entries []SuppressRequest `json:"entries"`
}

type BulkResult struct {
	Upserted int `json:"upserted"`
}

type ListRequest struct {
	Reason Reason
	Email  string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type Service interface {
	Check(ctx context.Context, email string) (CheckResult, error)
	Suppress(ctx context.Context, req SuppressRequest) (Entry, error)
	Unsuppress(ctx context.Context, email string) error
	Bulk(ctx context.Context, req BulkRequest) (BulkResult, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id string) (Entry, error)
	Delete(ctx context.Context, id string) error
}

const MaxBulkEntries = 1000

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidReason       = errors.New("invalid_reason")
	ErrInvalidExpiresAt    = errors.New("invalid_expires_at")
	ErrInvalidID           = errors.New("invalid_id")
	ErrTooManyEntries      = errors.New("too_many_entries")
	ErrNotFound            = errors.New("suppression_not_found")
)
