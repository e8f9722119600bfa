package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"qworker/internal/infrastructure"
)

// MetricsMiddleware instruments every HTTP request with the business
// metrics counters and histograms.
type MetricsMiddleware struct {
	metrics *infrastructure.BusinessMetrics
}

// NewMetricsMiddleware creates the instrumentation middleware on top of the
// application meter.
func NewMetricsMiddleware(providers *infrastructure.MetricsProviders) (*MetricsMiddleware, error) {
	bm, err := infrastructure.CreateBusinessMetrics(providers.Meter)
	if err != nil {
		return nil, err
	}
	return &MetricsMiddleware{metrics: bm}, nil
}

// BusinessMetrics exposes the instruments so the engine can record run
// lifecycle metrics on the same meter.
func (m *MetricsMiddleware) BusinessMetrics() *infrastructure.BusinessMetrics {
	return m.metrics
}

// Handler records request count, duration and in-flight gauge, labelled by
// method, route pattern and status code.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		m.metrics.HTTPActiveRequests.Add(ctx, 1)
		defer m.metrics.HTTPActiveRequests.Add(ctx, -1)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", routePattern(r)),
			attribute.Int("status_code", ww.Status()),
		)
		m.metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.metrics.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
	})
}

// routePattern prefers the matched chi pattern over the raw path so metric
// cardinality stays bounded.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
