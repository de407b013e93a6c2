package main

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/luc/internal/app"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/observability"
	"github.com/smallbiznis/luc/internal/ratelimit"
	"github.com/smallbiznis/luc/internal/server"
)

func main() {
	cfg := config.Load()

	fx.New(
		app.Core(cfg, app.NodeAPI),
		observability.Module,
		ratelimit.Module,
		server.Module,
	).Run()
}
