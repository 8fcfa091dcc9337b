// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"modbus-connector/internal/utils"
)

// LoggingMiddleware logs every request except the given probe paths
func LoggingMiddleware(logger *utils.ServiceLogger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		if skip[c.Request.URL.Path] && c.Writer.Status() < 400 {
			return
		}

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.GetString("request_id"),
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}
