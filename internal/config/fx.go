package config

import "go.uber.org/fx"

// Module supplies an already loaded config, so binaries can branch on it
// while composing the app.
func Module(cfg Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
