package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/episode-offline-go/api"
	"github.com/yourusername/episode-offline-go/api/handlers"
	"github.com/yourusername/episode-offline-go/internal/app"
	"github.com/yourusername/episode-offline-go/internal/daemon"
	"github.com/yourusername/episode-offline-go/internal/infrastructure"
	"github.com/yourusername/episode-offline-go/pkg/logger"
	"github.com/yourusername/episode-offline-go/pkg/playlist"
)

const shutdownTimeout = 30 * time.Second

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run in the foreground instead of detaching")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	if err := runServer(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// startAsDaemon re-executes the binary in server mode, detached from the terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	pid, err := daemon.Spawn(execPath, daemon.ServerArgs(*configPath)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", pid)
	os.Exit(0)
}

func runServer() error {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	// queue, error and access category files
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Download.LogsDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize category logs: %w", err)
	}
	defer multiLog.Close()

	logAdapter := logger.NewLoggerAdapter(log, multiLog)

	log.Info("Starting episode offline server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.Int("concurrent_limit", config.Download.ConcurrentLimit),
		zap.Bool("cache_enabled", config.Cache.Enabled))

	repo := infrastructure.NewSQLiteJobRepository(config.Store.DatabasePath)
	defer repo.Close()

	worker := infrastructure.NewSegmentCacheWorker(config.Cache.Dir, http.DefaultTransport, log)
	cache := infrastructure.NewCacheCoordinator(&config.Cache, worker, log)
	defer cache.Uninstall()

	fetchClient := &http.Client{Transport: worker.Transport()}
	fetcher := infrastructure.NewHTTPFetcher(fetchClient, log)

	proxyBase := playlist.DeriveProxyBase(config.Proxy.Origin, config.Proxy.CloudSuffix, config.Proxy.EdgeSuffix)
	if proxyBase != "" {
		log.Info("Rewriting segment URLs through edge proxy", zap.String("proxy_base", proxyBase))
	}

	orchestrator := app.NewOrchestrator(
		repo,
		fetcher,
		cache,
		app.NewProgressBus(),
		playlist.NewRewriter(proxyBase),
		&config.Download,
		log,
	)
	orchestrator.SetNotifier(infrastructure.NewNotificationService(&config.Notification, log))
	orchestrator.SetEventLogger(multiLog)

	var metrics *infrastructure.Metrics
	if config.Metrics.Enabled {
		metrics = infrastructure.NewMetrics()
		orchestrator.SetMetrics(metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	router := api.SetupRouter(orchestrator, logAdapter, metrics, config, nil)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		logAdapter.LogError("HTTP server failed", zap.Error(err))
	}

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop HTTP first so no request is admitted while jobs are interrupted
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logAdapter.LogError("Error stopping orchestrator", zap.Error(err))
	}

	log.Info("Server exited")
	return nil
}
