package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
)

const (
	ServiceName    = "qworker"
	ServiceVersion = "1.0.0"
	MeterName      = "qworker"
)

// MetricsProviders holds the metrics pipeline: the OpenTelemetry meter
// provider backed by a Prometheus reader and the HTTP handler that serves
// the scrape endpoint.
type MetricsProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeMetrics sets up the Prometheus-backed OpenTelemetry meter
// provider and registers it globally.
func InitializeMetrics(logger *slog.Logger) (*MetricsProviders, error) {
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	providers := &MetricsProviders{
		MeterProvider:  mp,
		Meter:          mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion)),
		PrometheusHTTP: promhttp.Handler(),
		Logger:         logger,
	}

	logger.InfoContext(ctx, "metrics initialized",
		slog.String("service", ServiceName),
		slog.String("exporter", "prometheus"))

	return providers, nil
}

// Shutdown flushes and stops the meter provider.
func (p *MetricsProviders) Shutdown(ctx context.Context) error {
	if p.MeterProvider == nil {
		return nil
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meter provider shutdown: %w", err)
	}
	p.Logger.InfoContext(ctx, "metrics shutdown complete")
	return nil
}

// BusinessMetrics holds the application-specific instruments.
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// Consolidation run metrics
	RunsTotal        metric.Int64Counter
	RunDuration      metric.Float64Histogram
	FilesImported    metric.Int64Counter
	RowsInserted     metric.Int64Counter
	TaxpayersTouched metric.Int64Counter
}

// CreateBusinessMetrics creates the application-specific instruments on the
// given meter.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	runsTotal, err := meter.Int64Counter(
		"consolidation_runs_total",
		metric.WithDescription("Total number of consolidation runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"consolidation_run_duration_seconds",
		metric.WithDescription("Consolidation run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	filesImported, err := meter.Int64Counter(
		"consolidation_files_imported_total",
		metric.WithDescription("Total number of declaration files imported"),
	)
	if err != nil {
		return nil, err
	}

	rowsInserted, err := meter.Int64Counter(
		"consolidation_rows_inserted_total",
		metric.WithDescription("Total number of declaration rows inserted"),
	)
	if err != nil {
		return nil, err
	}

	taxpayersTouched, err := meter.Int64Counter(
		"consolidation_taxpayers_total",
		metric.WithDescription("Total number of taxpayer workbooks regenerated"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPActiveRequests:  httpActiveRequests,
		RunsTotal:           runsTotal,
		RunDuration:         runDuration,
		FilesImported:       filesImported,
		RowsInserted:        rowsInserted,
		TaxpayersTouched:    taxpayersTouched,
	}, nil
}

// RecordRunMetrics records one finished consolidation run. A nil receiver is
// a no-op so the engine can run unmetered in tests.
func (m *BusinessMetrics) RecordRunMetrics(ctx context.Context, trigger, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordImportMetrics records one imported declaration file.
func (m *BusinessMetrics) RecordImportMetrics(ctx context.Context, rowsInserted int) {
	if m == nil {
		return
	}
	m.FilesImported.Add(ctx, 1)
	m.RowsInserted.Add(ctx, int64(rowsInserted))
}

// RecordTaxpayerMetrics records one regenerated taxpayer workbook.
func (m *BusinessMetrics) RecordTaxpayerMetrics(ctx context.Context) {
	if m == nil {
		return
	}
	m.TaxpayersTouched.Add(ctx, 1)
}

// generateInstanceID generates a unique instance identifier.
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
