package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hanoiair/hanoiair/internal/api/middleware"
)

func newTestMetrics(t *testing.T) (*middleware.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := middleware.NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

// requestTotals returns the request counter's data points keyed by attribute.
func requestTotals(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "http.server.request.total" {
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				return sum.DataPoints
			}
		}
	}
	t.Fatal("http.server.request.total not recorded")
	return nil
}

func attr(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.Emit()
}

func TestNewMetrics(t *testing.T) {
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)
	assert.NotNil(t, metrics)
}

func TestMetrics_RecordsRouteStatusAndProvenance(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/metadata/locations/{locationKey}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(middleware.ProvenanceHeader, "SYNTHETIC")
		_, _ = w.Write([]byte(`{}`))
	})

	for _, path := range []string{"/v1/metadata/locations/6", "/v1/metadata/locations/7"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	points := requestTotals(t, reader)
	require.Len(t, points, 1, "both keys share one route series")
	assert.Equal(t, int64(2), points[0].Value)
	assert.Equal(t, "/v1/metadata/locations/{locationKey}", attr(points[0].Attributes, "http.route"))
	assert.Equal(t, "200", attr(points[0].Attributes, "http.status_code"))
	assert.Equal(t, "SYNTHETIC", attr(points[0].Attributes, "aqi.provenance"))
}

func TestMetrics_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		error  bool
	}{
		{"ok", http.StatusOK, false},
		{"bad request", http.StatusBadRequest, true},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, reader := newTestMetrics(t)
			handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/aqi/current", http.NoBody))
			assert.Equal(t, tt.status, rec.Code)

			points := requestTotals(t, reader)
			require.Len(t, points, 1)
			v, ok := points[0].Attributes.Value("error")
			assert.Equal(t, tt.error, ok && v.AsBool())
		})
	}
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	handler := metrics.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("response"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wp-login.php", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	points := requestTotals(t, reader)
	require.Len(t, points, 1)
	assert.Equal(t, "unmatched", attr(points[0].Attributes, "http.route"))
	assert.Empty(t, attr(points[0].Attributes, "aqi.provenance"))
}
