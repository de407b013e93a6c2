// Package db opens the gorm connection shared by the SQL account store.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormprom "gorm.io/plugin/prometheus"

	obslogger "github.com/smallbiznis/luc/internal/observability/logger"
)

var Module = fx.Module("db",
	fx.Provide(FromConfig),
	fx.Provide(provide),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Log       *zap.Logger
}

func provide(p Params) (*gorm.DB, error) {
	conn, err := Open(p.Config, WithTracing(), WithMetrics())
	if err != nil {
		return nil, err
	}
	p.Log.Named("db").Info("database opened",
		zap.String("type", p.Config.Type),
		zap.String("name", p.Config.Name),
	)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return Close(conn)
		},
	})
	return conn, nil
}

type openOptions struct {
	tracing bool
	metrics bool
}

type Option func(*openOptions)

// WithTracing installs the otelgorm plugin.
func WithTracing() Option { return func(o *openOptions) { o.tracing = true } }

// WithMetrics installs the gorm prometheus plugin.
func WithMetrics() Option { return func(o *openOptions) { o.metrics = true } }

func Open(cfg Config, opts ...Option) (*gorm.DB, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:  obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Type, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}

	if o.tracing {
		if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.Name))); err != nil {
			return nil, fmt.Errorf("otelgorm: %w", err)
		}
	}
	if o.metrics {
		if err := conn.Use(gormprom.New(gormprom.Config{
			DBName:          cfg.Name,
			RefreshInterval: 15,
		})); err != nil {
			return nil, fmt.Errorf("gorm prometheus: %w", err)
		}
	}
	return conn, nil
}

func Close(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewTest opens an isolated in-memory sqlite database on a single
// connection so every query sees the same data.
func NewTest() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:luc-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return conn, nil
}
