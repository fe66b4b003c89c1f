package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var scannerPrefixes = []string{
	"/admin",
	"/phpmyadmin",
	"/wp-",
	"/.env",
	"/.git",
	"/.aws",
	"/cgi-bin",
	"/actuator",
	"/console",
	"/backup",
}

var scannerSuffixes = []string{".php", ".asp", ".aspx", ".jsp", ".bak", ".sql", ".zip", ".tar.gz"}

// NoiseFilter keeps vulnerability scanners and health checks out of the request log.
// It must be registered after Logging so it runs first on the way out.
func NoiseFilter(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.Request.URL.Path
		status := c.Writer.Status()

		skip := false
		switch {
		case path == "/health" && status == http.StatusOK:
			skip = true
		case status == http.StatusMethodNotAllowed:
			skip = true
		case status >= http.StatusBadRequest && isScannerPath(path):
			skip = true
		}
		if !skip {
			return
		}

		c.Set(SkipLoggingKey, true)
		logger.Debug("Request filtered from log",
			"component", "api",
			"path", path,
			"method", c.Request.Method,
			"status", status,
			"client_ip", c.ClientIP())
	}
}

// isScannerPath checks if a path is commonly requested by vulnerability scanners
func isScannerPath(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, suffix := range scannerSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
