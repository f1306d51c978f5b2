package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/episode-offline-go/internal/app"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	orchestrator *app.Orchestrator
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(orchestrator *app.Orchestrator) *HealthHandler {
	return &HealthHandler{
		orchestrator: orchestrator,
	}
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Queue   struct {
		Running bool `json:"running"`
		Active  int  `json:"active"`
		Queued  int  `json:"queued"`
	} `json:"queue"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:  "ok",
		Version: Version,
	}
	response.Queue.Running = h.orchestrator.IsRunning()
	response.Queue.Active = h.orchestrator.ActiveCount()
	response.Queue.Queued = h.orchestrator.QueueLength()

	c.JSON(http.StatusOK, response)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if !h.orchestrator.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "orchestrator not running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
