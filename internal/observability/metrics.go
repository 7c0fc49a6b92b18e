package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"personad/internal/shared/logging"
)

// Activation modes and outcomes used as metric attributes.
const (
	ModeForced  = "forced"
	ModeMatched = "matched"

	OutcomeHit   = "hit"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// MetricsCollector records resolver activity through OpenTelemetry.
// A zero MetricsCollector (or nil pointer) records nothing.
type MetricsCollector struct {
	meter metric.Meter

	activations       metric.Int64Counter
	activationLatency metric.Float64Histogram
	activatedPersonas metric.Int64Histogram
	contextFailures   metric.Int64Counter

	provider         *sdkmetric.MeterProvider
	prometheusServer *http.Server
	logger           logging.Logger
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port" mapstructure:"prometheus_port"`
}

// NewMetricsCollector creates a collector exporting through the Prometheus
// exporter and, when a port is configured, serves /metrics.
func NewMetricsCollector(config MetricsConfig, logger logging.Logger) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	collector, err := NewMetricsCollectorWithMeter(provider.Meter("personad"))
	if err != nil {
		return nil, err
	}
	collector.provider = provider
	collector.logger = logging.OrNop(logger)

	if config.PrometheusPort > 0 {
		collector.StartPrometheusServer(config.PrometheusPort)
	}
	return collector, nil
}

// NewMetricsCollectorWithMeter builds the instruments on an existing meter.
func NewMetricsCollectorWithMeter(meter metric.Meter) (*MetricsCollector, error) {
	activations, err := meter.Int64Counter(
		"personad.activations.total",
		metric.WithDescription("Total number of persona activations"),
		metric.WithUnit("{activation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	activationLatency, err := meter.Float64Histogram(
		"personad.activation.latency",
		metric.WithDescription("Activation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation_latency histogram: %w", err)
	}

	activatedPersonas, err := meter.Int64Histogram(
		"personad.activation.personas",
		metric.WithDescription("Number of personas returned per activation"),
		metric.WithUnit("{persona}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation_personas histogram: %w", err)
	}

	contextFailures, err := meter.Int64Counter(
		"personad.activation.context_failures",
		metric.WithDescription("Context documents omitted from activation results"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create context_failures counter: %w", err)
	}

	return &MetricsCollector{
		meter:             meter,
		activations:       activations,
		activationLatency: activationLatency,
		activatedPersonas: activatedPersonas,
		contextFailures:   contextFailures,
		logger:            logging.Nop(),
	}, nil
}

// StartPrometheusServer serves the default Prometheus registry on port.
func (m *MetricsCollector) StartPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("prometheus server error: %v", err)
		}
	}()
}

// Shutdown stops the metrics server and flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.prometheusServer != nil {
		errs = append(errs, m.prometheusServer.Shutdown(ctx))
	}
	if m.provider != nil {
		errs = append(errs, m.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// RecordActivation records one activate call.
func (m *MetricsCollector) RecordActivation(ctx context.Context, mode, outcome string, personas, contextFailures int, latency time.Duration) {
	if m == nil || m.activations == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.activations.Add(ctx, 1, attrs)
	m.activationLatency.Record(ctx, latency.Seconds(), attrs)
	if outcome != OutcomeError {
		m.activatedPersonas.Record(ctx, int64(personas), metric.WithAttributes(attribute.String("mode", mode)))
	}
	if contextFailures > 0 {
		m.contextFailures.Add(ctx, int64(contextFailures), metric.WithAttributes(attribute.String("mode", mode)))
	}
}
