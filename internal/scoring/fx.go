package scoring

import (
	"github.com/smallbiznis/sequencer/internal/scoring/repository"
	"github.com/smallbiznis/sequencer/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(service.RegisterSubscriber),
)
