package service

import (
	"context"

	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	eventservice "github.com/smallbiznis/sequencer/internal/event/service"
	"github.com/smallbiznis/sequencer/internal/scoring/domain"
)

// HandleEvent recomputes the entity score when a weighted event arrives.
func (s *Service) HandleEvent(ctx context.Context, event eventdomain.Event) error {
	if s.engine.Get().Scoring.Weights[event.EventType] <= 0 {
		return nil
	}
	_, err := s.recompute(ctx, event.OrgID, event.EntityType, event.EntityID)
	return err
}

func RegisterSubscriber(dispatcher *eventservice.Dispatcher, svc domain.Service) {
	if sub, ok := svc.(eventdomain.Subscriber); ok {
		dispatcher.Register("scoring", sub)
	}
}
