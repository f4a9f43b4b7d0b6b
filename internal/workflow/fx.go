package workflow

import (
	"github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/internal/workflow/engine"
	"github.com/smallbiznis/sequencer/internal/workflow/repository"
	"github.com/smallbiznis/sequencer/internal/workflow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("workflow.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		engine.New,
		func(e *engine.Engine) domain.Advancer { return e },
	),
	fx.Invoke(service.RegisterSubscriber),
)
