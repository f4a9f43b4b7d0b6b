package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxNameLength = 200

func (s *Service) CreateDefinition(ctx context.Context, req domain.CreateDefinitionRequest) (domain.Definition, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Definition{}, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		return domain.Definition{}, domain.ErrInvalidName
	}
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	if entityType == "" {
		entityType = eventdomain.EntityTypeContact
	}
	graph := req.Definition
	graph.Normalize()
	if err := domain.ValidateGraph(&graph); err != nil {
		return domain.Definition{}, err
	}
	status := domain.WorkflowStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if status != "" && status != domain.WorkflowDraft && status != domain.WorkflowActive {
		return domain.Definition{}, domain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	def := domain.Definition{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		Version:           1,
		IsLatest:          true,
		Key:               slug.Make(name),
		Name:              name,
		Description:       strings.TrimSpace(req.Description),
		EntityType:        entityType,
		TriggerEventTypes: normalizeTriggers(req.TriggerEventTypes),
		Graph:             datatypes.NewJSONType(graph),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if strings.TrimSpace(req.WorkflowID) == "" {
			def.WorkflowID = s.genID.Generate()
			def.Status = domain.WorkflowDraft
			if status != "" {
				def.Status = status
			}
		} else {
			workflowID, err := snowflake.ParseString(strings.TrimSpace(req.WorkflowID))
			if err != nil {
				return domain.ErrInvalidWorkflowID
			}
			latest, err := s.repo.FindLatest(ctx, tx, orgID, workflowID, true)
			if err != nil {
				return err
			}
			if latest == nil {
				return domain.ErrWorkflowNotFound
			}
			if latest.Status == domain.WorkflowArchived {
				return domain.ErrInvalidTransition
			}
			def.WorkflowID = workflowID
			def.Version = latest.Version + 1
			def.Status = latest.Status
			if err := s.repo.ClearLatest(ctx, tx, orgID, workflowID); err != nil {
				return err
			}
		}

		if def.Status == domain.WorkflowActive || def.Status == domain.WorkflowPaused {
			if err := domain.ValidateForActivation(&graph); err != nil {
				return err
			}
		}
		if err := s.repo.InsertDefinition(ctx, tx, &def); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrVersionConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Definition{}, err
	}

	s.log.Info("workflow version saved",
		zap.String("org_id", orgID.String()),
		zap.String("workflow_id", def.WorkflowID.String()),
		zap.Int("version", def.Version),
		zap.String("status", string(def.Status)),
	)
	return def, nil
}

func normalizeTriggers(raw []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func (s *Service) GetDefinition(ctx context.Context, workflowID string, version int) (domain.Definition, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Definition{}, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(workflowID))
	if err != nil {
		return domain.Definition{}, domain.ErrInvalidWorkflowID
	}
	if version < 0 {
		return domain.Definition{}, domain.ErrInvalidVersion
	}

	var def *domain.Definition
	if version == 0 {
		def, err = s.repo.FindLatest(ctx, s.db, orgID, id, false)
	} else {
		def, err = s.repo.FindVersion(ctx, s.db, orgID, id, version)
	}
	if err != nil {
		return domain.Definition{}, err
	}
	if def == nil {
		return domain.Definition{}, domain.ErrWorkflowNotFound
	}
	return *def, nil
}

func (s *Service) ListVersions(ctx context.Context, workflowID string) ([]domain.Definition, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(workflowID))
	if err != nil {
		return nil, domain.ErrInvalidWorkflowID
	}
	items, err := s.repo.ListVersions(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrWorkflowNotFound
	}
	defs := make([]domain.Definition, 0, len(items))
	for _, item := range items {
		defs = append(defs, *item)
	}
	return defs, nil
}

func (s *Service) ListDefinitions(ctx context.Context, req domain.ListDefinitionsRequest) (domain.ListDefinitionsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListDefinitionsResponse{}, domain.ErrInvalidOrganization
	}
	filter := domain.DefinitionFilter{}
	if req.Status != "" {
		if !req.Status.Valid() {
			return domain.ListDefinitionsResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = req.Status
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListDefinitionsResponse{}, err
		}
		afterID, _, err := cursor.After()
		if err != nil {
			return domain.ListDefinitionsResponse{}, err
		}
		filter.AfterID = snowflake.ID(afterID)
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.ListLatest(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListDefinitionsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(d *domain.Definition) pagination.Cursor {
		return pagination.NewCursor(int64(d.WorkflowID), d.CreatedAt)
	})
	defs := make([]domain.Definition, 0, len(items))
	for _, item := range items {
		defs = append(defs, *item)
	}
	return domain.ListDefinitionsResponse{PageInfo: pageInfo, Workflows: defs}, nil
}

// UpdateStatus moves the workflow through its lifecycle and applies the
// matching bulk change to live enrollments in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, workflowID string, status domain.WorkflowStatus) (domain.Definition, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.Definition{}, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(workflowID))
	if err != nil {
		return domain.Definition{}, domain.ErrInvalidWorkflowID
	}
	status = domain.WorkflowStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return domain.Definition{}, domain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	var (
		def     domain.Definition
		stopped []domain.Enrollment
		changed int64
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := s.repo.FindLatest(ctx, tx, orgID, id, true)
		if err != nil {
			return err
		}
		if latest == nil {
			return domain.ErrWorkflowNotFound
		}
		def = *latest
		if latest.Status == status {
			return nil
		}
		if !latest.Status.CanTransitionTo(status) {
			return domain.ErrInvalidTransition
		}
		if status == domain.WorkflowActive {
			graph := latest.Graph.Data()
			if err := domain.ValidateForActivation(&graph); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateWorkflowStatus(ctx, tx, orgID, id, status, now); err != nil {
			return err
		}
		def.Status = status
		def.UpdatedAt = now

		switch {
		case status == domain.WorkflowPaused:
			changed, err = s.repo.PauseByWorkflow(ctx, tx, orgID, id, now)
		case status == domain.WorkflowActive && latest.Status == domain.WorkflowPaused:
			changed, err = s.repo.ResumeByWorkflow(ctx, tx, orgID, id, now)
		case status == domain.WorkflowArchived:
			stopped, err = s.stopLive(ctx, tx, orgID, id, now)
			changed = int64(len(stopped))
		}
		return err
	})
	if err != nil {
		return domain.Definition{}, err
	}

	for _, e := range stopped {
		s.publishOutcome(ctx, e)
	}
	s.log.Info("workflow status changed",
		zap.String("org_id", orgID.String()),
		zap.String("workflow_id", id.String()),
		zap.String("status", string(def.Status)),
		zap.Int64("enrollments_changed", changed),
	)
	return def, nil
}

func (s *Service) stopLive(ctx context.Context, tx *gorm.DB, orgID, workflowID snowflake.ID, now time.Time) ([]domain.Enrollment, error) {
	live, err := s.repo.ListLiveByWorkflow(ctx, tx, orgID, workflowID)
	if err != nil {
		return nil, err
	}
	stopped := make([]domain.Enrollment, 0, len(live))
	for _, e := range live {
		ok, err := s.repo.Stop(ctx, tx, orgID, e.ID, domain.OutcomeStoppedArchived, now)
		if err != nil {
			return nil, fmt.Errorf("stop enrollment %s: %w", e.ID, err)
		}
		if !ok {
			continue
		}
		from := e.Status
		e.Finish(domain.OutcomeStoppedArchived, "workflow_archived", now)
		s.metrics.IncEnrollmentTransition(string(from), string(e.Status))
		stopped = append(stopped, *e)
	}
	return stopped, nil
}
