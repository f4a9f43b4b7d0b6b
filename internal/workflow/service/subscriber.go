package service

import (
	"context"
	"errors"

	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	eventservice "github.com/smallbiznis/sequencer/internal/event/service"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"go.uber.org/zap"
)

// HandleEvent enrolls the event's entity into every active workflow that
// lists the event type as a trigger.
func (s *Service) HandleEvent(ctx context.Context, event eventdomain.Event) error {
	ctx = orgcontext.WithOrgID(ctx, int64(event.OrgID))
	defs, err := s.repo.ListLatest(ctx, s.db, event.OrgID, domain.DefinitionFilter{Status: domain.WorkflowActive})
	if err != nil {
		return err
	}

	var errs []error
	for _, def := range defs {
		if !def.Triggers(event.EventType) || def.EntityType != event.EntityType {
			continue
		}
		snapshot := map[string]any{
			"trigger_event_id":   event.ID.String(),
			"trigger_event_type": event.EventType,
		}
		if event.Recipient != "" {
			snapshot["email"] = event.Recipient
		}
		res, err := s.Enroll(ctx, domain.EnrollRequest{
			WorkflowID: def.WorkflowID.String(),
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			Snapshot:   snapshot,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !res.Created {
			s.log.Debug("trigger ignored, entity already enrolled",
				zap.String("workflow_id", def.WorkflowID.String()),
				zap.String("enrollment_id", res.Enrollment.ID.String()),
			)
		}
	}
	return errors.Join(errs...)
}

func RegisterSubscriber(dispatcher *eventservice.Dispatcher, svc domain.Service) {
	if sub, ok := svc.(eventdomain.Subscriber); ok {
		dispatcher.Register("workflow.trigger", sub)
	}
}
