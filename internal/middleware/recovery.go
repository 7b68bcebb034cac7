package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskboard-calls/pkg/logger"
	"taskboard-calls/pkg/response"
)

// Recovery recovers from panics and returns 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(c.Request.Context()).Error("Panic in control API handler",
					zap.String("panic", fmt.Sprint(err)),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthCheck answers /health before any other middleware runs.
// ready reports whether call features are available.
func HealthCheck(serviceName string, ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			status := "healthy"
			if ready != nil && !ready() {
				status = "degraded"
			}
			c.JSON(http.StatusOK, gin.H{
				"status":  status,
				"service": serviceName,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
