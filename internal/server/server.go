package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	accountdomain "github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/observability"
	obsmiddleware "github.com/smallbiznis/luc/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/luc/internal/observability/metrics"
	obstracing "github.com/smallbiznis/luc/internal/observability/tracing"
	"github.com/smallbiznis/luc/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	accounts   accountdomain.Service
	catalog    *catalog.Catalog
	limiter    *ratelimit.AccountLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Accounts   accountdomain.Service
	Catalog    *catalog.Catalog
	Limiter    *ratelimit.AccountLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http"),
		accounts:   p.Accounts,
		catalog:    p.Catalog,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.GET("/catalog", s.GetCatalog)
	api.GET("/presets", s.ListPresets)
	api.GET("/presets/:presetId", s.GetPreset)

	// -------- Accounts --------
	api.GET("/accounts", s.ListAccounts)
	api.GET("/accounts/:userId", s.GetAccount)
	api.DELETE("/accounts/:userId", s.AccountRateLimit(), s.DeleteAccount)
	api.POST("/accounts/:userId/preset", s.AccountRateLimit(), s.CreateFromPreset)

	// -------- Gating --------
	api.POST("/accounts/:userId/can-execute", s.CanExecute)
	api.POST("/accounts/:userId/quote", s.Quote)
	api.POST("/accounts/:userId/batch/can-execute", s.CanExecuteBatch)
	api.POST("/accounts/:userId/batch/quote", s.QuoteBatch)
	api.GET("/accounts/:userId/alerts", s.Alerts)

	// -------- Metering --------
	api.POST("/accounts/:userId/debit", s.AccountRateLimit(), s.Debit)
	api.POST("/accounts/:userId/credit", s.AccountRateLimit(), s.Credit)
	api.POST("/accounts/:userId/batch/debit", s.DebitBatch)

	// -------- Lifecycle --------
	api.POST("/accounts/:userId/plan", s.AccountRateLimit(), s.ChangePlan)
	api.POST("/accounts/:userId/reset", s.AccountRateLimit(), s.ResetBillingCycle)

	// -------- Reporting --------
	api.GET("/accounts/:userId/history", s.History)
	api.GET("/accounts/:userId/stats", s.Stats)
	api.GET("/accounts/:userId/export", s.Export)
	api.POST("/accounts/:userId/import", s.AccountRateLimit(), s.Import)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
