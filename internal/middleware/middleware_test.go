package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"taskboard-calls/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/v1/call", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestControlAuth(t *testing.T) {
	r := newRouter(ControlAuth("s3cret"))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bad scheme", "Basic s3cret", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer s3cret", "", http.StatusOK},
		{"query", "", "?access_token=s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/call"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, serve(r, req).Code)
		})
	}
}

func TestControlAuth_DisabledWithoutToken(t *testing.T) {
	r := newRouter(ControlAuth(""))
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/v1/call", nil)).Code)
}

func TestCORSMiddleware(t *testing.T) {
	r := newRouter(CORSMiddleware([]string{"https://board.example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/call", nil)
	req.Header.Set("Origin", "https://board.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://board.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/call", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodOptions, "/v1/call", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestHealthCheck(t *testing.T) {
	ready := false
	r := newRouter(HealthCheck("call-agent", func() bool { return ready }))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")

	ready = true
	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRecovery(t *testing.T) {
	r := newRouter(RequestLogger(), Recovery())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsHandler(t *testing.T) {
	m := metrics.NewMetrics("test")
	r := gin.New()
	r.Use(NewPrometheusMiddleware(m, "/metrics").Handler())
	r.GET("/metrics", MetricsHandler(m))
	r.GET("/v1/call", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/v1/call", nil))
	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
	assert.NotContains(t, w.Body.String(), `endpoint="/metrics"`)
}

func TestMetricsHandler_NilMetrics(t *testing.T) {
	r := gin.New()
	r.GET("/metrics", MetricsHandler(nil))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	r := newRouter(SecurityHeaders())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/call", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}
