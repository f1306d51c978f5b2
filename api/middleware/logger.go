package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/episode-offline-go/pkg/logger"
	"go.uber.org/zap"
)

// Logger returns a gin middleware for logging
func Logger(log *zap.Logger) gin.HandlerFunc {
	return LoggerWithAdapter(logger.NewLoggerAdapter(log, nil))
}

// LoggerWithAdapter logs every request to the access category and server errors to the error category
func LoggerWithAdapter(logAdapter *logger.LoggerAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logAdapter.Access().Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", clientIP),
			zap.String("user_agent", c.Request.UserAgent()),
		)

		if statusCode >= 500 {
			logAdapter.LogError("HTTP error response",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", statusCode),
				zap.String("errors", c.Errors.String()),
			)
		}
	}
}
