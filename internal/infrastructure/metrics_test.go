package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeMetrics_ScrapeEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	providers, err := InitializeMetrics(logger)
	require.NoError(t, err)
	require.NotNil(t, providers.Meter)
	require.NotNil(t, providers.PrometheusHTTP)

	bm, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	bm.RecordRunMetrics(ctx, "upload", "success", 2*time.Second)
	bm.RecordImportMetrics(ctx, 42)
	bm.RecordTaxpayerMetrics(ctx)
	bm.HTTPRequestsTotal.Add(ctx, 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "consolidation_runs_total")
	assert.Contains(t, body, "consolidation_run_duration_seconds")
	assert.Contains(t, body, "consolidation_files_imported_total")
	assert.Contains(t, body, "consolidation_rows_inserted_total")
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `outcome="success"`)

	require.NoError(t, providers.Shutdown(ctx))
}

func TestBusinessMetrics_NilReceiverIsNoOp(t *testing.T) {
	var bm *BusinessMetrics

	assert.NotPanics(t, func() {
		bm.RecordRunMetrics(context.Background(), "upload", "failure", time.Second)
		bm.RecordImportMetrics(context.Background(), 10)
		bm.RecordTaxpayerMetrics(context.Background())
	})
}
