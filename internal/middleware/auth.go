package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"taskboard-calls/pkg/response"
)

// ControlAuth requires the shared control token as a bearer token. EventSource
// clients cannot set headers, so the access_token query parameter is also accepted.
// An empty token disables the check.
func ControlAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented := c.Query("access_token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(c, "Invalid authorization header format")
				c.Abort()
				return
			}
			presented = parts[1]
		}

		if presented == "" {
			response.Unauthorized(c, "Authorization required")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			response.Unauthorized(c, "Invalid control token")
			c.Abort()
			return
		}
		c.Next()
	}
}
