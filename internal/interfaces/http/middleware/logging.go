// Package middleware 提供 HTTP 中间件
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"convergence-engine/pkg/logger"
)

// Logging 访问日志中间件
func Logging(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
			"body_size", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Warn(c.Request.Context(), "api request failed", fields...)
		default:
			logger.Info(c.Request.Context(), "api request", fields...)
		}
	}
}

// DefaultSkipPaths 不记录访问日志、不限流的路径
var DefaultSkipPaths = []string{
	"/health",
	"/health/ready",
	"/health/live",
	"/metrics",
}
