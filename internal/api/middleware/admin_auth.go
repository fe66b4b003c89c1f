package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// APIKeyHeader carries the admin API key
	APIKeyHeader = "X-Staybook-Key"
	// AuthenticatedKey is set in the context once a request passed AdminAuth
	AuthenticatedKey = "authenticated"
)

// AdminAuth validates the admin API key from the X-Staybook-Key header
// or an Authorization Bearer header.
func AdminAuth(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)

	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			authHeader := c.GetHeader("Authorization")
			const bearerPrefix = "Bearer "
			if authHeader != "" && !strings.HasPrefix(authHeader, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid authorization scheme. Use Bearer token.",
					"code":  "INVALID_AUTH_SCHEME",
				})
				return
			}
			provided = strings.TrimPrefix(authHeader, bearerPrefix)
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key required",
				"code":  "AUTH_REQUIRED",
			})
			return
		}

		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		c.Set(AuthenticatedKey, true)
		c.Next()
	}
}
