package middleware

import (
	"github.com/gin-gonic/gin"

	"staybook/internal/idgen"
)

const RequestIDKey = "X-Request-ID"

const maxRequestIDLength = 64

// RequestID tags each request with an ID, echoed in the response header and
// attached to every log line. Client IDs are kept when they are short and use
// only letters, digits and . _ : - so they cannot break log lines.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if !validRequestID(requestID) {
			requestID = idgen.NewRequest()
		}
		c.Header(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch ch := id[i]; {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '.' || ch == '_' || ch == ':' || ch == '-':
		default:
			return false
		}
	}
	return true
}
