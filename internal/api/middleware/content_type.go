package middleware

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContentType rejects request bodies that are not JSON.
// POST, PUT and PATCH without a body and without a Content-Type pass through so
// handlers report the missing payload themselves.
func ContentType() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			header := c.GetHeader("Content-Type")
			if header == "" && c.Request.ContentLength == 0 {
				break
			}
			if mediaType, _, err := mime.ParseMediaType(header); err != nil || mediaType != "application/json" {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
					"error":   "Content-Type must be application/json",
					"code":    "INVALID_CONTENT_TYPE",
					"details": header,
				})
				return
			}
		}
		c.Next()
	}
}
