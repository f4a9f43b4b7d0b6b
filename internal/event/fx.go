package event

import (
	"github.com/smallbiznis/sequencer/internal/event/repository"
	"github.com/smallbiznis/sequencer/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewDispatcher),
	fx.Provide(service.New),
)
