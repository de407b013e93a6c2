package observability

import (
	"strings"

	"github.com/smallbiznis/luc/internal/config"
	"github.com/smallbiznis/luc/internal/observability/logger"
	"github.com/smallbiznis/luc/internal/observability/metrics"
	"github.com/smallbiznis/luc/internal/observability/tracing"
)

// Config is the slice of the app config the telemetry stack reads.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OTLPEndpoint      string
	OTLPProtocol      string
	OtelSamplingRatio float64
}

func FromAppConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "luc"
	}
	return Config{
		ServiceName:       name,
		Environment:       strings.TrimSpace(cfg.Environment),
		Version:           strings.TrimSpace(cfg.AppVersion),
		LogLevel:          cfg.LogLevel,
		LogFormat:         cfg.LogFormat,
		OtelEnabled:       cfg.OtelEnabled,
		OTLPEndpoint:      cfg.OTLPEndpoint,
		OTLPProtocol:      cfg.OTLPProtocol,
		OtelSamplingRatio: cfg.OtelSamplingRatio,
	}
}

// Debug is true for debug log level or a development environment.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OTLPEndpoint,
		ExporterProtocol: c.OTLPProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OTLPEndpoint,
		ExporterProtocol: c.OTLPProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
