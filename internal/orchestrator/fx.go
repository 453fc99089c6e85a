package orchestrator

import (
	"go.uber.org/fx"
)

var Module = fx.Module("orchestrator",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Register),
)

func Register(lc fx.Lifecycle, cfg Config, o *Orchestrator) {
	if !cfg.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: o.Start,
		OnStop:  o.Stop,
	})
}
