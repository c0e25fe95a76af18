package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeter returns a meter provider backed by a manual reader
func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})
	return mp, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func attrValue(set attribute.Set, key attribute.Key) string {
	v, _ := set.Value(key)
	return v.AsString()
}

func newMetricsRouter(t *testing.T, mp *sdkmetric.MeterProvider) *gin.Engine {
	t.Helper()

	mw, err := Metrics(mp.Meter("http.server"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(mw)
	router.GET("/api/v1/orders/:id", func(c *gin.Context) {
		if c.Param("id") == "missing" {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusOK)
	})
	router.POST("/api/v1/bulk/emit", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func TestMetrics_RequestCounterByRoute(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	for _, path := range []string{"/api/v1/orders/o-1", "/api/v1/orders/o-2", "/api/v1/orders/missing"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/bulk/emit", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		key := attrValue(dp.Attributes, "http.request.method") + " " +
			attrValue(dp.Attributes, "http.route") + " " +
			attrValue(dp.Attributes, "http.response.status_code")
		counts[key] = dp.Value
	}
	assert.Equal(t, map[string]int64{
		"GET /api/v1/orders/:id 200": 2,
		"GET /api/v1/orders/:id 404": 1,
		"POST /api/v1/bulk/emit 202": 1,
	}, counts)
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nowhere/123", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, "unmatched", attrValue(sum.DataPoints[0].Attributes, "http.route"))
}

func TestMetrics_DurationAndActiveRequests(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil))

	rm := collectMetrics(t, reader)

	duration := findMetricByName(rm, "http_server_request_duration_seconds")
	require.NotNil(t, duration)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, HTTPDurationBuckets, hist.DataPoints[0].Bounds)

	active := findMetricByName(rm, "http_server_active_requests")
	require.NotNil(t, active)
	gauge := active.Data.(metricdata.Sum[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}
