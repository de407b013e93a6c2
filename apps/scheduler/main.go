package main

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/luc/internal/app"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/observability"
	"github.com/smallbiznis/luc/internal/scheduler"
)

func main() {
	cfg := config.Load()

	fx.New(
		app.Core(cfg, app.NodeScheduler),
		observability.Module,

		// No server module!
		scheduler.Module,
	).Run()
}
