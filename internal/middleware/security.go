package middleware

import (
	"github.com/gin-gonic/gin"
)

// controlAPIHeaders apply to every control API response. The API only serves
// JSON and event streams, so nothing may be framed, sniffed or cached.
var controlAPIHeaders = map[string]string{
	"X-Frame-Options":              "DENY",
	"X-Content-Type-Options":       "nosniff",
	"Referrer-Policy":              "no-referrer",
	"Cache-Control":                "no-store",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Cross-Origin-Resource-Policy": "same-site",
}

// SecurityHeaders adds the control API response headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range controlAPIHeaders {
			h.Set(k, v)
		}
		c.Next()
	}
}
