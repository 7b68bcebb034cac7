package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/metrics"
)

// PrometheusMiddleware is a Gin middleware that records HTTP metrics
type PrometheusMiddleware struct {
	metrics *metrics.Metrics
	skip    map[string]struct{}
}

// NewPrometheusMiddleware creates a new Prometheus middleware. Routes listed in
// skip (gin full paths) are served but not measured; long-lived streams belong there.
func NewPrometheusMiddleware(m *metrics.Metrics, skip ...string) *PrometheusMiddleware {
	p := &PrometheusMiddleware{metrics: m, skip: make(map[string]struct{}, len(skip))}
	for _, path := range skip {
		p.skip[path] = struct{}{}
	}
	return p
}

// Handler returns the Gin middleware handler
func (p *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := p.skip[c.FullPath()]; ok {
			c.Next()
			return
		}

		p.metrics.IncrementHTTPRequestsInFlight()
		defer p.metrics.DecrementHTTPRequestsInFlight()

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		p.metrics.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

// MetricsHandler serves the agent's registry. Collection errors are logged and
// the remaining metrics are still served.
func MetricsHandler(m *metrics.Metrics) gin.HandlerFunc {
	registry := m.GetRegistry()
	if registry == nil {
		return func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "metrics not initialized\n")
		}
	}
	h := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{},
		ErrorHandling: promhttp.ContinueOnError,
	})
	return gin.WrapH(h)
}

// promErrorLog adapts the package logger to promhttp.Logger
type promErrorLog struct{}

func (promErrorLog) Println(v ...interface{}) {
	logger.Warn("Metrics collection error: " + fmt.Sprint(v...))
}
