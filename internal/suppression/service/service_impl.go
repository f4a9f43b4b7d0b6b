package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/suppression/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	EventRepo eventdomain.Repository
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	eventRepo eventdomain.Repository
	metrics   *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("suppression.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		eventRepo: p.EventRepo,
		metrics:   p.Metrics,
	}
}

// Check evaluates the gate in precedence order: stored suppressions, then the
// per-address frequency cap, then the per-domain throttle. Nothing is cached.
func (s *Service) Check(ctx context.Context, email string) (domain.CheckResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.CheckResult{}, domain.ErrInvalidOrganization
	}
	address, err := eventdomain.NormalizeEmail(email)
	if err != nil {
		return domain.CheckResult{}, domain.ErrInvalidEmail
	}

	now := s.clock.Now().UTC()
	result, err := s.check(ctx, orgID, address, now)
	if err != nil {
		return domain.CheckResult{}, err
	}
	s.metrics.RecordSuppressionDecision(ctx, result.Allowed, string(result.Reason))
	return result, nil
}

func (s *Service) check(ctx context.Context, orgID snowflake.ID, address string, now time.Time) (domain.CheckResult, error) {
	entry, err := s.repo.FindByEmail(ctx, s.db, orgID, address)
	if err != nil {
		return domain.CheckResult{}, err
	}
	if entry != nil {
		if entry.Active(now) {
			return domain.CheckResult{Reason: entry.Reason, ExpiresAt: entry.ExpiresAt}, nil
		}
		// expired entries are removed on read; a concurrent re-suppress wins
		if _, err := s.repo.DeleteExpired(ctx, s.db, orgID, entry.ID, now); err != nil {
			return domain.CheckResult{}, err
		}
		s.log.Debug("expired suppression removed",
			zap.String("org_id", orgID.String()),
			zap.String("entry_id", entry.ID.String()),
			zap.String("reason", string(entry.Reason)),
		)
	}

	sent, err := s.eventRepo.CountInWindow(ctx, s.db, orgID, eventdomain.WindowFilter{
		EventType: eventdomain.EventEmailSent,
		Recipient: address,
		After:     now.Add(-domain.FrequencyCapWindow),
		Until:     now,
	})
	if err != nil {
		return domain.CheckResult{}, err
	}
	if sent >= domain.FrequencyCapLimit {
		return domain.CheckResult{Reason: domain.ReasonFrequencyCap}, nil
	}

	if host := eventdomain.DomainOf(address); host != "" {
		sent, err := s.eventRepo.CountInWindow(ctx, s.db, orgID, eventdomain.WindowFilter{
			EventType:       eventdomain.EventEmailSent,
			RecipientDomain: host,
			After:           now.Add(-domain.DomainThrottleWindow),
			Until:           now,
		})
		if err != nil {
			return domain.CheckResult{}, err
		}
		if sent >= domain.DomainThrottleLimit {
			return domain.CheckResult{Reason: domain.ReasonDomainThrottle}, nil
		}
	}

	return domain.CheckResult{Allowed: true}, nil
}

func (s *Service) Suppress(ctx context.Context, req domain.SuppressRequest) (domain.Entry, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Entry{}, domain.ErrInvalidOrganization
	}
	now := s.clock.Now().UTC()
	entry, err := s.buildEntry(orgID, req, now)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := s.repo.Upsert(ctx, s.db, entry); err != nil {
		return domain.Entry{}, err
	}

	stored, err := s.repo.FindByEmail(ctx, s.db, orgID, entry.Email)
	if err != nil {
		return domain.Entry{}, err
	}
	if stored == nil {
		return domain.Entry{}, domain.ErrNotFound
	}
	s.log.Info("address suppressed",
		zap.String("org_id", orgID.String()),
		zap.String("entry_id", stored.ID.String()),
		zap.String("reason", string(stored.Reason)),
	)
	return *stored, nil
}

func (s *Service) buildEntry(orgID snowflake.ID, req domain.SuppressRequest, now time.Time) (*domain.Entry, error) {
	address, err := eventdomain.NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	reason := domain.Reason(strings.ToLower(strings.TrimSpace(string(req.Reason))))
	if reason == "" {
		reason = domain.ReasonManual
	}
	if !reason.Valid() {
		return nil, domain.ErrInvalidReason
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, domain.ErrInvalidExpiresAt
		}
		value := req.ExpiresAt.UTC()
		expiresAt = &value
	}
	return &domain.Entry{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Email:     address,
		Reason:    reason,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) Unsuppress(ctx context.Context, email string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidOrganization
	}
	address, err := eventdomain.NormalizeEmail(email)
	if err != nil {
		return domain.ErrInvalidEmail
	}
	deleted, err := s.repo.DeleteByEmail(ctx, s.db, orgID, address)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) Bulk(ctx context.Context, req domain.BulkRequest) (domain.BulkResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.BulkResult{}, domain.ErrInvalidOrganization
	}
	if len(req.Entries) > domain.MaxBulkEntries {
		return domain.BulkResult{}, domain.ErrTooManyEntries
	}

	now := s.clock.Now().UTC()
	entries := make([]*domain.Entry, 0, len(req.Entries))
	for _, item := range req.Entries {
		entry, err := s.buildEntry(orgID, item, now)
		if err != nil {
			return domain.BulkResult{}, err
		}
		entries = append(entries, entry)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entry := range entries {
			if err := s.repo.Upsert(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.BulkResult{}, err
	}
	return domain.BulkResult{Upserted: len(entries)}, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}

	filter := domain.ListFilter{}
	if req.Reason != "" {
		reason := domain.Reason(strings.ToLower(strings.TrimSpace(string(req.Reason))))
		if !reason.Valid() {
			return domain.ListResponse{}, domain.ErrInvalidReason
		}
		filter.Reason = reason
	}
	if req.Email != "" {
		address, err := eventdomain.NormalizeEmail(req.Email)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidEmail
		}
		filter.Email = address
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		afterID, afterCreated, err := cursor.After()
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.AfterID = snowflake.ID(afterID)
		filter.AfterCreated = &afterCreated
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e *domain.Entry) pagination.Cursor {
		return pagination.NewCursor(int64(e.ID), e.CreatedAt)
	})

	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Entries: entries}, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Entry, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Entry{}, domain.ErrInvalidOrganization
	}
	entryID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return domain.Entry{}, domain.ErrInvalidID
	}
	entry, err := s.repo.FindByID(ctx, s.db, orgID, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if entry == nil {
		return domain.Entry{}, domain.ErrNotFound
	}
	return *entry, nil
}

// Delete removes an entry by id, or by address when id looks like an email.
func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidOrganization
	}
	id = strings.TrimSpace(id)
	if strings.Contains(id, "@") {
		return s.Unsuppress(ctx, id)
	}
	entryID, err := snowflake.ParseString(id)
	if err != nil {
		return domain.ErrInvalidID
	}
	deleted, err := s.repo.DeleteByID(ctx, s.db, orgID, entryID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}
