package crm

import (
	"github.com/smallbiznis/sequencer/internal/crm/activity"
	"github.com/smallbiznis/sequencer/internal/crm/resolver"
	"go.uber.org/fx"
)

var Module = fx.Module("crm",
	fx.Provide(resolver.New),
	fx.Provide(activity.New),
)
