package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/episode-offline-go/internal/app"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"github.com/yourusername/episode-offline-go/pkg/logger"
	"go.uber.org/zap"
)

// DownloadHandler handles download-related HTTP requests
type DownloadHandler struct {
	orchestrator *app.Orchestrator
	logReader    *logger.LogReader
	logger       *zap.Logger
}

// NewDownloadHandler creates a new download handler. logReader may be nil.
func NewDownloadHandler(orchestrator *app.Orchestrator, logReader *logger.LogReader, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		orchestrator: orchestrator,
		logReader:    logReader,
		logger:       logger,
	}
}

// AddDownloadRequest represents a request to download one episode
type AddDownloadRequest struct {
	ID        string `json:"id" binding:"required"`
	ParentID  string `json:"parent_id"`
	Ordinal   int    `json:"ordinal"`
	Label     string `json:"label"`
	SourceURL string `json:"source_url" binding:"required"`
}

// AddDownload handles POST /api/v1/downloads
func (h *DownloadHandler) AddDownload(c *gin.Context) {
	var req AddDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.orchestrator.RequestDownload(c.Request.Context(), domain.JobRequest{
		ID:        req.ID,
		ParentID:  req.ParentID,
		Ordinal:   req.Ordinal,
		Label:     req.Label,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		if errors.Is(err, domain.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, domain.ErrJobUnwinding) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to add download", zap.String("id", req.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetDownload handles GET /api/v1/downloads/:id
func (h *DownloadHandler) GetDownload(c *gin.Context) {
	id := c.Param("id")

	job, err := h.orchestrator.GetStatus(id)
	if err != nil {
		h.logger.Error("Failed to get download", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"download": job,
		"active":   h.orchestrator.IsActive(id),
	})
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandler) ListDownloads(c *gin.Context) {
	var (
		jobs []*domain.Job
		err  error
	)

	switch {
	case c.Query("parent_id") != "":
		jobs, err = h.orchestrator.ListByParent(c.Query("parent_id"))
	case c.Query("status") != "":
		var statuses []domain.JobStatus
		for _, s := range strings.Split(c.Query("status"), ",") {
			status := domain.JobStatus(strings.TrimSpace(s))
			if !domain.ValidateStatus(status) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + s})
				return
			}
			statuses = append(statuses, status)
		}
		jobs, err = h.orchestrator.ListByStatus(statuses...)
	default:
		jobs, err = h.orchestrator.GetAll()
	}
	if err != nil {
		h.logger.Error("Failed to list downloads", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}

	c.JSON(http.StatusOK, jobs)
}

// GetStats handles GET /api/v1/downloads/stats
func (h *DownloadHandler) GetStats(c *gin.Context) {
	stats, err := h.orchestrator.GetStats()
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":  stats,
		"active": h.orchestrator.ActiveCount(),
		"queued": h.orchestrator.QueueLength(),
	})
}

// CancelDownload handles POST /api/v1/downloads/:id/cancel
func (h *DownloadHandler) CancelDownload(c *gin.Context) {
	id := c.Param("id")

	if err := h.orchestrator.Cancel(id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to cancel download", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download cancel requested"})
}

// DeleteDownload handles DELETE /api/v1/downloads/:id
func (h *DownloadHandler) DeleteDownload(c *gin.Context) {
	id := c.Param("id")

	if err := h.orchestrator.DeleteDownload(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to delete download", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "download deleted"})
}

// GetHistory handles GET /api/v1/downloads/:id/history
func (h *DownloadHandler) GetHistory(c *gin.Context) {
	if h.logReader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event logs are disabled"})
		return
	}

	id := c.Param("id")
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		days = 7
	}
	if days > 90 {
		days = 90
	}

	entries, err := h.logReader.JobHistory(id, time.Now(), days)
	if err != nil {
		h.logger.Error("Failed to read download history", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"count":   len(entries),
		"entries": entries,
	})
}
