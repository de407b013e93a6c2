package observability

import (
	"github.com/smallbiznis/luc/internal/observability/logger"
	"github.com/smallbiznis/luc/internal/observability/metrics"
	"github.com/smallbiznis/luc/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the tracer and meter providers, and the
// metering instruments. Scheduler metrics are registered eagerly so
// /metrics lists them before the first job runs.
var Module = fx.Module("observability",
	fx.Provide(
		FromAppConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(metrics.SchedulerWithConfig),
)
