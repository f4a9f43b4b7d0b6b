package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Enroll starts the entity at the entry node of the latest version. An
// existing live enrollment for the same workflow and entity is returned
// unchanged.
func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (domain.EnrollResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.EnrollResult{}, domain.ErrInvalidOrganization
	}
	workflowID, err := snowflake.ParseString(strings.TrimSpace(req.WorkflowID))
	if err != nil {
		return domain.EnrollResult{}, domain.ErrInvalidWorkflowID
	}
	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return domain.EnrollResult{}, domain.ErrInvalidEntityID
	}

	def, err := s.repo.FindLatest(ctx, s.db, orgID, workflowID, false)
	if err != nil {
		return domain.EnrollResult{}, err
	}
	if def == nil {
		return domain.EnrollResult{}, domain.ErrWorkflowNotFound
	}
	if def.Status != domain.WorkflowActive {
		return domain.EnrollResult{}, domain.ErrWorkflowNotActive
	}
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	if entityType == "" {
		entityType = def.EntityType
	}
	if entityType != def.EntityType {
		return domain.EnrollResult{}, domain.ErrInvalidEntityType
	}

	activeKey := domain.ActiveKeyFor(workflowID, entityID)
	if existing, err := s.repo.FindByActiveKey(ctx, s.db, orgID, activeKey); err != nil {
		return domain.EnrollResult{}, err
	} else if existing != nil {
		return domain.EnrollResult{Enrollment: *existing}, nil
	}

	graph := def.Graph.Data()
	entryID, err := graph.EntryNode()
	if err != nil {
		return domain.EnrollResult{}, err
	}
	entry, _ := graph.Node(entryID)

	now := s.clock.Now().UTC()
	snapshot := datatypes.JSONMap{}
	for k, v := range req.Snapshot {
		snapshot[k] = v
	}
	enrollment := domain.Enrollment{
		ID:               s.genID.Generate(),
		OrgID:            orgID,
		WorkflowID:       workflowID,
		DefinitionID:     def.ID,
		WorkflowVersion:  def.Version,
		EntityType:       entityType,
		EntityID:         entityID,
		CurrentNodeID:    entry.ID,
		Status:           domain.EnrollmentActive,
		ActiveKey:        &activeKey,
		EnteredAt:        now,
		NodeEnteredAt:    now,
		LastTransitionAt: now,
		NextCheckAt:      &now,
		StateSnapshot:    snapshot,
		Path:             datatypes.JSONSlice[domain.PathEntry]{{NodeID: entry.ID, NodeType: entry.Type, EnteredAt: now}},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err := s.repo.InsertEnrollment(ctx, s.db, &enrollment)
	if err != nil {
		return domain.EnrollResult{}, err
	}
	if !created {
		existing, err := s.repo.FindByActiveKey(ctx, s.db, orgID, activeKey)
		if err != nil {
			return domain.EnrollResult{}, err
		}
		if existing == nil {
			return domain.EnrollResult{}, domain.ErrVersionConflict
		}
		return domain.EnrollResult{Enrollment: *existing}, nil
	}

	s.log.Info("entity enrolled",
		zap.String("org_id", orgID.String()),
		zap.String("workflow_id", workflowID.String()),
		zap.Int("version", def.Version),
		zap.String("enrollment_id", enrollment.ID.String()),
		zap.String("entry_node", entry.ID),
	)
	return domain.EnrollResult{Enrollment: enrollment, Created: true}, nil
}

func (s *Service) GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error) {
	orgID, enrollmentID, err := s.enrollmentRef(ctx, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	e, err := s.repo.FindEnrollment(ctx, s.db, orgID, enrollmentID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if e == nil {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	return *e, nil
}

func (s *Service) ListEnrollments(ctx context.Context, req domain.ListEnrollmentsRequest) (domain.ListEnrollmentsResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListEnrollmentsResponse{}, domain.ErrInvalidOrganization
	}
	filter := domain.EnrollmentFilter{EntityID: strings.TrimSpace(req.EntityID)}
	if req.Status != "" {
		if !req.Status.Valid() {
			return domain.ListEnrollmentsResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = req.Status
	}
	if req.WorkflowID != "" {
		workflowID, err := snowflake.ParseString(strings.TrimSpace(req.WorkflowID))
		if err != nil {
			return domain.ListEnrollmentsResponse{}, domain.ErrInvalidWorkflowID
		}
		filter.WorkflowID = workflowID
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListEnrollmentsResponse{}, err
		}
		afterID, _, err := cursor.After()
		if err != nil {
			return domain.ListEnrollmentsResponse{}, err
		}
		filter.AfterID = snowflake.ID(afterID)
	}
	limit := req.Limit()
	filter.Limit = limit + 1

	items, err := s.repo.ListEnrollments(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListEnrollmentsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(e *domain.Enrollment) pagination.Cursor {
		return pagination.NewCursor(int64(e.ID), e.CreatedAt)
	})
	out := make([]domain.Enrollment, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListEnrollmentsResponse{PageInfo: pageInfo, Enrollments: out}, nil
}

func (s *Service) Pause(ctx context.Context, id string) (domain.Enrollment, error) {
	orgID, enrollmentID, err := s.enrollmentRef(ctx, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	ok, err := s.repo.Pause(ctx, s.db, orgID, enrollmentID, domain.PauseReasonManual, s.clock.Now())
	if err != nil {
		return domain.Enrollment{}, err
	}
	return s.afterTransition(ctx, orgID, enrollmentID, ok, domain.EnrollmentActive)
}

func (s *Service) Resume(ctx context.Context, id string) (domain.Enrollment, error) {
	orgID, enrollmentID, err := s.enrollmentRef(ctx, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	ok, err := s.repo.Resume(ctx, s.db, orgID, enrollmentID, s.clock.Now())
	if err != nil {
		return domain.Enrollment{}, err
	}
	return s.afterTransition(ctx, orgID, enrollmentID, ok, domain.EnrollmentPaused)
}

func (s *Service) Stop(ctx context.Context, id string) (domain.Enrollment, error) {
	orgID, enrollmentID, err := s.enrollmentRef(ctx, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	before, err := s.repo.FindEnrollment(ctx, s.db, orgID, enrollmentID)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if before == nil {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	ok, err := s.repo.Stop(ctx, s.db, orgID, enrollmentID, domain.OutcomeStoppedManual, s.clock.Now())
	if err != nil {
		return domain.Enrollment{}, err
	}
	e, err := s.afterTransition(ctx, orgID, enrollmentID, ok, before.Status)
	if err != nil {
		return domain.Enrollment{}, err
	}
	s.publishOutcome(ctx, e)
	return e, nil
}

// afterTransition reloads the enrollment after a conditional update. A
// missed update on an existing row means the move is not allowed from its
// current status.
func (s *Service) afterTransition(ctx context.Context, orgID, id snowflake.ID, applied bool, from domain.EnrollmentStatus) (domain.Enrollment, error) {
	e, err := s.repo.FindEnrollment(ctx, s.db, orgID, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if e == nil {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	if !applied {
		return domain.Enrollment{}, domain.ErrInvalidTransition
	}
	s.metrics.IncEnrollmentTransition(string(from), string(e.Status))
	return *e, nil
}

func (s *Service) enrollmentRef(ctx context.Context, id string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return 0, 0, domain.ErrInvalidOrganization
	}
	enrollmentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return 0, 0, domain.ErrInvalidEnrollmentID
	}
	return orgID, enrollmentID, nil
}
