package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/episode-offline-go/pkg/logger"
	"go.uber.org/zap"
)

// Recovery returns a gin middleware for panic recovery
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return RecoveryWithAdapter(logger.NewLoggerAdapter(log, nil))
}

// RecoveryWithAdapter turns handler panics into 500 responses and records them as errors
func RecoveryWithAdapter(logAdapter *logger.LoggerAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logAdapter.LogError("Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("client_ip", c.ClientIP()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
