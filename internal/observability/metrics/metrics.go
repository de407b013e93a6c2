package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes metering instruments.
type Metrics struct {
	admissions    metric.Int64Counter
	debits        metric.Int64Counter
	credits       metric.Int64Counter
	overageCost   metric.Float64Counter
	events        metric.Int64Counter
	storageErrors metric.Int64Counter
	lockWait      metric.Float64Histogram
	rateLimited   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the metering instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "luc"
	}
	meter := provider.Meter(name)

	admissions, err := meter.Int64Counter("luc_admission_checks_total")
	if err != nil {
		return nil, err
	}
	debits, err := meter.Int64Counter("luc_debits_total")
	if err != nil {
		return nil, err
	}
	credits, err := meter.Int64Counter("luc_credits_total")
	if err != nil {
		return nil, err
	}
	overageCost, err := meter.Float64Counter("luc_overage_cost_total", metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	events, err := meter.Int64Counter("luc_events_total")
	if err != nil {
		return nil, err
	}
	storageErrors, err := meter.Int64Counter("luc_storage_errors_total")
	if err != nil {
		return nil, err
	}
	lockWait, err := meter.Float64Histogram("luc_account_lock_wait_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	rateLimited, err := meter.Int64Counter("luc_rate_limited_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		admissions:    admissions,
		debits:        debits,
		credits:       credits,
		overageCost:   overageCost,
		events:        events,
		storageErrors: storageErrors,
		lockWait:      lockWait,
		rateLimited:   rateLimited,
	}, nil
}

// RecordAdmission counts a pre-flight check by zone.
func (m *Metrics) RecordAdmission(ctx context.Context, service, zone string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("service", strings.TrimSpace(service)),
		attribute.String("zone", strings.TrimSpace(zone)),
	)
	m.admissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDebit counts a debit and any overage it billed.
func (m *Metrics) RecordDebit(ctx context.Context, service, outcome string, cost float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("service", strings.TrimSpace(service)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.debits.Add(ctx, 1, metric.WithAttributes(attrs...))
	if cost > 0 {
		m.overageCost.Add(ctx, cost, metric.WithAttributes(FilterAttributes(attribute.String("service", service))...))
	}
}

func (m *Metrics) RecordCredit(ctx context.Context, service, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("service", strings.TrimSpace(service)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.credits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("op", strings.TrimSpace(op)))
	m.storageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveLockWait records how long a mutation waited for the account lock.
func (m *Metrics) ObserveLockWait(ctx context.Context, wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Record(ctx, wait.Seconds())
}

func (m *Metrics) RecordRateLimited(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// User ids are unbounded and never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"service":     {},
	"zone":        {},
	"outcome":     {},
	"event_type":  {},
	"op":          {},
	"endpoint":    {},
	"method":      {},
	"route":       {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
