package suppression

import (
	"github.com/smallbiznis/sequencer/internal/suppression/repository"
	"github.com/smallbiznis/sequencer/internal/suppression/service"
	"go.uber.org/fx"
)

var Module = fx.Module("suppression.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(service.RegisterSubscriber),
)
