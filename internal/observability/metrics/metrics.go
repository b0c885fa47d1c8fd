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

// Metrics exposes application-level instruments for the charge engine.
type Metrics struct {
	executions      metric.Int64Counter
	mutations       metric.Int64Counter
	pluginFailures  metric.Int64Counter
	verifyFindings  metric.Int64Counter
	executionMillis metric.Int64Histogram
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sirius"
	}
	meter := provider.Meter(name)

	executions, err := meter.Int64Counter("sirius_charge_executions_total")
	if err != nil {
		return nil, err
	}
	mutations, err := meter.Int64Counter("sirius_charge_mutations_total")
	if err != nil {
		return nil, err
	}
	pluginFailures, err := meter.Int64Counter("sirius_charge_plugin_failures_total")
	if err != nil {
		return nil, err
	}
	verifyFindings, err := meter.Int64Counter("sirius_charge_verification_findings_total")
	if err != nil {
		return nil, err
	}
	executionMillis, err := meter.Int64Histogram("sirius_charge_execution_duration_ms")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		executions:      executions,
		mutations:       mutations,
		pluginFailures:  pluginFailures,
		verifyFindings:  verifyFindings,
		executionMillis: executionMillis,
	}, nil
}

// RecordExecution counts one engine run for a trigger kind.
func (m *Metrics) RecordExecution(ctx context.Context, triggerKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger_kind", strings.TrimSpace(triggerKind)))
	m.executions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.executionMillis.Record(ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
}

// RecordMutation counts a ledger mutation by kind and originating plugin.
func (m *Metrics) RecordMutation(ctx context.Context, pluginID, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plugin_id", strings.TrimSpace(pluginID)),
		attribute.String("mutation_kind", strings.TrimSpace(kind)),
	)
	m.mutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPluginFailure counts an isolated plugin failure.
func (m *Metrics) RecordPluginFailure(ctx context.Context, pluginID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plugin_id", strings.TrimSpace(pluginID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.pluginFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVerificationFinding counts one discrepancy reported by an audit.
func (m *Metrics) RecordVerificationFinding(ctx context.Context, pluginID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("plugin_id", strings.TrimSpace(pluginID)))
	m.verifyFindings.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"trigger_kind":  {},
	"plugin_id":     {},
	"mutation_kind": {},
	"reason":        {},
	"status_code":   {},
	"endpoint":      {},
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
