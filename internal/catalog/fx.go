package catalog

import (
	"github.com/smallbiznis/luc/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("catalog",
	fx.Provide(provide),
)

func provide(cfg config.Config, log *zap.Logger) (*Catalog, error) {
	cat, err := Load(LoadOptions{
		File:        cfg.CatalogFile,
		DefaultPlan: cfg.DefaultPlan,
	})
	if err != nil {
		return nil, err
	}
	log.Named("catalog").Info("catalog loaded",
		zap.Int("services", len(cat.Services())),
		zap.Int("plans", len(cat.Plans())),
		zap.String("default_plan", cat.DefaultPlanID()),
	)
	return cat, nil
}
