package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/event/domain"
	obsmetrics "github.com/smallbiznis/sequencer/internal/observability/metrics"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxFutureSkew = 24 * time.Hour

var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_.:-]{0,63}$`)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Dispatcher *Dispatcher
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	dispatcher *Dispatcher
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("event.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
	}
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (domain.IngestResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.IngestResult{}, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	record, err := s.buildEvent(orgID, req, now)
	if err != nil {
		return domain.IngestResult{}, err
	}

	existing, err := s.repo.FindByDedupeKey(ctx, s.db, orgID, record.DedupeKey)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if existing != nil {
		s.metrics.RecordEventIngested(ctx, existing.EventType, true)
		return domain.IngestResult{Event: *existing, Deduplicated: true}, nil
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if !inserted {
		// lost the race against a concurrent producer with the same key
		existing, err := s.repo.FindByDedupeKey(ctx, s.db, orgID, record.DedupeKey)
		if err != nil {
			return domain.IngestResult{}, err
		}
		if existing == nil {
			return domain.IngestResult{}, domain.ErrInvalidDedupeKey
		}
		s.metrics.RecordEventIngested(ctx, existing.EventType, true)
		return domain.IngestResult{Event: *existing, Deduplicated: true}, nil
	}

	s.metrics.RecordEventIngested(ctx, record.EventType, false)
	s.dispatcher.Dispatch(ctx, *record)
	return domain.IngestResult{Event: *record}, nil
}

func (s *Service) buildEvent(orgID snowflake.ID, req domain.IngestRequest, now time.Time) (*domain.Event, error) {
	eventType := strings.TrimSpace(req.EventType)
	if !eventTypePattern.MatchString(eventType) {
		return nil, domain.ErrInvalidEventType
	}
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	if entityType == "" {
		return nil, domain.ErrInvalidEntityType
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}
	if req.OccurredAt == nil || req.OccurredAt.IsZero() {
		return nil, domain.ErrInvalidOccurredAt
	}
	occurredAt := req.OccurredAt.UTC()
	if occurredAt.After(now.Add(maxFutureSkew)) {
		return nil, domain.ErrInvalidOccurredAt
	}

	payload, err := domain.DecodePayload(eventType, req.Payload)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidatePayload(payload); err != nil {
		return nil, err
	}
	raw, err := canonicalPayload(req.Payload)
	if err != nil {
		return nil, err
	}

	source := strings.TrimSpace(req.Source)
	dedupeKey := strings.TrimSpace(req.DedupeKey)
	if len(dedupeKey) > 255 {
		return nil, domain.ErrInvalidDedupeKey
	}
	if dedupeKey == "" {
		dedupeKey = DeriveDedupeKey(eventType, entityType, entityID, source, occurredAt, raw)
	}

	recipient := domain.RecipientOf(payload)
	return &domain.Event{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		EventType:       eventType,
		EntityType:      entityType,
		EntityID:        entityID,
		Source:          source,
		OccurredAt:      occurredAt,
		ReceivedAt:      now,
		DedupeKey:       dedupeKey,
		Recipient:       recipient,
		RecipientDomain: domain.DomainOf(recipient),
		Payload:         datatypes.JSON(raw),
	}, nil
}

// canonicalPayload re-encodes the payload with sorted object keys so equal
// documents hash the same regardless of producer formatting.
func canonicalPayload(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []byte("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, domain.ErrInvalidPayload
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	return out, nil
}

// DeriveDedupeKey hashes the identifying fields of an event. The payload is
// expected in canonical form.
func DeriveDedupeKey(eventType, entityType, entityID, source string, occurredAt time.Time, payload []byte) string {
	h := sha256.New()
	for _, part := range []string{eventType, entityType, entityID, source, occurredAt.UTC().Format(time.RFC3339Nano)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(payload)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func (s *Service) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Event, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.ErrInvalidEntityID
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, domain.ErrInvalidTimeRange
	}

	items, err := s.repo.Query(ctx, s.db, orgID, domain.QueryFilter{
		EntityID:   entityID,
		EventTypes: req.EventTypes,
		From:       req.From,
		To:         req.To,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return derefEvents(items), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}

	filter := domain.QueryFilter{
		EntityID: strings.TrimSpace(req.EntityID),
		From:     req.From,
		To:       req.To,
	}
	if eventType := strings.TrimSpace(req.EventType); eventType != "" {
		filter.EventTypes = []string{eventType}
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListResponse{}, err
		}
		afterID, afterTime, err := cursor.After()
		if err != nil {
			return domain.ListResponse{}, err
		}
		filter.AfterID = snowflake.ID(afterID)
		filter.AfterTime = &afterTime
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.Query(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e *domain.Event) pagination.Cursor {
		return pagination.NewCursor(int64(e.ID), e.OccurredAt)
	})
	return domain.ListResponse{PageInfo: pageInfo, Events: derefEvents(items)}, nil
}

func derefEvents(items []*domain.Event) []domain.Event {
	out := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}
