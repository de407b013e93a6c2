package gating

import "go.uber.org/fx"

var Module = fx.Module("gating",
	fx.Provide(New),
)
