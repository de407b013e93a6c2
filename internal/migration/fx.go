package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/luc/internal/account/repository"
	"github.com/smallbiznis/luc/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date. Postgres uses the versioned
// migrations; other dialects fall back to gorm AutoMigrate.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		return nil
	}
	log = log.Named("migration")
	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("postgres migrations applied")
		return nil
	}
	if err := conn.WithContext(context.Background()).AutoMigrate(repository.Models()...); err != nil {
		return err
	}
	log.Info("schema auto-migrated", zap.String("dialect", conn.Dialector.Name()))
	return nil
}
