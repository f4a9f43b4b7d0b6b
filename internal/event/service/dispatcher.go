package service

import (
	"context"
	"sync"

	"github.com/smallbiznis/sequencer/internal/event/domain"
	"go.uber.org/zap"
)

type namedSubscriber struct {
	name string
	sub  domain.Subscriber
}

// Dispatcher fans newly stored events out to in-process subscribers.
// Subscribers register after construction, which keeps the fx graph acyclic
// for components that both consume and produce events.
type Dispatcher struct {
	log  *zap.Logger
	mu   sync.RWMutex
	subs []namedSubscriber
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("event.dispatcher")}
}

func (d *Dispatcher) Register(name string, sub domain.Subscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	d.subs = append(d.subs, namedSubscriber{name: name, sub: sub})
	d.mu.Unlock()
}

// Dispatch runs subscribers in registration order. Failures are logged and
// never propagate: the event is already durable.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	subs := append([]namedSubscriber(nil), d.subs...)
	d.mu.RUnlock()

	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			d.log.Warn("event subscriber failed",
				zap.String("subscriber", s.name),
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
		}
	}
}
