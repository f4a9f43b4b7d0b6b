package service

import (
	"context"

	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	eventservice "github.com/smallbiznis/sequencer/internal/event/service"
	"github.com/smallbiznis/sequencer/internal/orgcontext"
	"github.com/smallbiznis/sequencer/internal/suppression/domain"
	"go.uber.org/zap"
)

// HandleEvent turns compliance signals into suppression entries. Soft
// bounces are ignored.
func (s *Service) HandleEvent(ctx context.Context, event eventdomain.Event) error {
	var reason domain.Reason
	switch event.EventType {
	case eventdomain.EventEmailBounced:
		payload, err := event.DecodedPayload()
		if err != nil {
			return err
		}
		email, ok := payload.(eventdomain.EmailPayload)
		if !ok || !email.HardBounce() {
			return nil
		}
		reason = domain.ReasonHardBounce
	case eventdomain.EventSpamComplaint:
		reason = domain.ReasonSpamComplaint
	case eventdomain.EventUnsubscribed:
		reason = domain.ReasonUnsubscribed
	default:
		return nil
	}
	if event.Recipient == "" {
		s.log.Warn("compliance event without recipient",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
		)
		return nil
	}

	ctx = orgcontext.WithOrgID(ctx, int64(event.OrgID))
	_, err := s.Suppress(ctx, domain.SuppressRequest{Email: event.Recipient, Reason: reason})
	return err
}

// RegisterSubscriber attaches the gate to the event dispatcher.
func RegisterSubscriber(dispatcher *eventservice.Dispatcher, svc domain.Service) {
	if sub, ok := svc.(eventdomain.Subscriber); ok {
		dispatcher.Register("suppression", sub)
	}
}
