package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/episode-offline-go/api/handlers"
	"github.com/yourusername/episode-offline-go/api/middleware"
	"github.com/yourusername/episode-offline-go/internal/app"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"github.com/yourusername/episode-offline-go/internal/infrastructure"
	"github.com/yourusername/episode-offline-go/pkg/logger"
)

// SetupRouter sets up the HTTP router.
// metrics may be nil, which leaves /metrics unregistered; proxyClient nil uses http.DefaultClient.
func SetupRouter(
	orchestrator *app.Orchestrator,
	logAdapter *logger.LoggerAdapter,
	metrics *infrastructure.Metrics,
	config *domain.Config,
	proxyClient *http.Client,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	general := logAdapter.General()

	// Middleware
	router.Use(middleware.LoggerWithAdapter(logAdapter))
	router.Use(middleware.RecoveryWithAdapter(logAdapter))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(orchestrator)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// Edge proxy for rewritten segment URLs
	proxyHandler := handlers.NewProxyHandler(proxyClient, config.Proxy.AllowedHosts, orchestrator.Rewriter(), general)
	router.GET("/proxy", proxyHandler.Proxy)

	logReader := logger.NewLogReader(config.Download.LogsDir)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(orchestrator, logReader, general)
		progressHandler := handlers.NewProgressWebSocketHandler(orchestrator, general)
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)
			downloads.GET("/:id", downloadHandler.GetDownload)
			downloads.GET("/:id/history", downloadHandler.GetHistory)
			downloads.GET("/:id/progress", progressHandler.HandleWebSocket)
			downloads.POST("/:id/cancel", downloadHandler.CancelDownload)
			downloads.DELETE("/:id", downloadHandler.DeleteDownload)
		}

		cacheHandler := handlers.NewCacheHandler(orchestrator, general)
		cache := v1.Group("/cache")
		{
			cache.GET("/:id/size", cacheHandler.GetSize)
			cache.DELETE("", cacheHandler.ClearAll)
		}

		logHandler := handlers.NewLogHandler(logReader)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
