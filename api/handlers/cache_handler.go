package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/episode-offline-go/internal/app"
	"go.uber.org/zap"
)

// CacheHandler exposes the segment cache of downloaded episodes
type CacheHandler struct {
	orchestrator *app.Orchestrator
	logger       *zap.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(orchestrator *app.Orchestrator, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{orchestrator: orchestrator, logger: logger}
}

// GetSize handles GET /api/v1/cache/:id/size
func (h *CacheHandler) GetSize(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"id":    id,
		"bytes": h.orchestrator.CacheSize(c.Request.Context(), id),
	})
}

// ClearAll handles DELETE /api/v1/cache
func (h *CacheHandler) ClearAll(c *gin.Context) {
	if !h.orchestrator.ClearCache(c.Request.Context()) {
		h.logger.Warn("Segment cache could not be cleared")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "segment cache unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "segment cache cleared"})
}
