package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/distant-lod/internal/logging"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/api/cells", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/api/tier", func(c *gin.Context) { c.JSON(http.StatusBadRequest, gin.H{"error": "bad dx"}) })
	r.GET("/boom", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"}) })
	return r
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPrometheusMiddlewareMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMiddleware("test", registry)
	r := newRouter(pm.Handler())

	assert.Equal(t, http.StatusOK, serve(r, "/api/cells").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, "/api/tier").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, "/no/such/path/42").Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Len(t, mf.Metric, 3)
		case "test_http_request_errors_total":
			errorsFound = true
			// 400 и 404 (без маршрута - одна метка unmatched)
			assert.Len(t, mf.Metric, 2)
			paths := map[string]bool{}
			for _, m := range mf.Metric {
				for _, l := range m.Label {
					if l.GetName() == "path" {
						paths[l.GetValue()] = true
					}
				}
				assert.Equal(t, 1.0, m.Counter.GetValue())
			}
			assert.True(t, paths["unmatched"])
			assert.True(t, paths["/api/tier"])
		case "test_http_requests_inflight":
			assert.Equal(t, 0.0, mf.Metric[0].Gauge.GetValue())
		}
	}
	assert.True(t, durationFound, "Duration metric not found")
	assert.True(t, errorsFound, "Errors metric not found")
}

func TestRequestLoggerSetsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger("api", &buf, logging.INFO)
	r := newRouter(NewRequestLogger(logger).Handler())

	w := serve(r, "/api/cells")
	traceID := w.Header().Get("X-Trace-Id")
	assert.Len(t, traceID, 36, "без span используется UUID")
	assert.Contains(t, buf.String(), "[INFO] [api] [HTTP] ◀ GET /api/cells 200")
	assert.Contains(t, buf.String(), traceID)
	assert.NotContains(t, buf.String(), "▶", "вход в запрос пишется на DEBUG")

	buf.Reset()
	serve(r, "/boom")
	assert.Contains(t, buf.String(), "[ERROR] [api] [HTTP] ◀ GET /boom 500")

	other := serve(r, "/api/cells").Header().Get("X-Trace-Id")
	assert.NotEqual(t, traceID, other)
}
