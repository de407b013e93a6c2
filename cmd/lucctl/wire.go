package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/app"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/config"
)

type deps struct {
	accounts accountdomain.Service
	catalog  *catalog.Catalog
	stop     func()
}

// wireApp opens the configured store directly; no server is involved.
func wireApp(ctx context.Context) (*deps, error) {
	cfg := config.Load()

	var out deps
	fxApp := fx.New(
		fx.NopLogger,
		app.Core(cfg, app.NodeCLI),
		fx.Provide(newCLILogger),
		fx.Populate(&out.accounts, &out.catalog),
	)
	if err := fxApp.Err(); err != nil {
		return nil, fmt.Errorf("wire lucctl: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return nil, fmt.Errorf("start lucctl: %w", err)
	}
	out.stop = func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
	}
	return &out, nil
}

// newCLILogger keeps stdout for command output.
func newCLILogger(lc fx.Lifecycle) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "console"
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	log, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = log.Sync()
			return nil
		},
	})
	return log, nil
}
