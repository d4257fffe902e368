package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/api"
	"github.com/iconidentify/clipgrab/internal/api/handler"
	mw "github.com/iconidentify/clipgrab/internal/api/middleware"
	"github.com/iconidentify/clipgrab/internal/cleanup"
	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/downloader"
	"github.com/iconidentify/clipgrab/internal/repository"
	"github.com/iconidentify/clipgrab/internal/service"
	"github.com/iconidentify/clipgrab/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clipgrab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting clipgrab",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	fs := afero.NewOsFs()
	sweeper := cleanup.NewSweeper(fs, cfg.Storage.TempPath, cfg.Cleanup.MaxAge, logger)

	// Leftovers from a previous run can never be claimed: their tokens died with it.
	if cfg.Cleanup.StartupWipe {
		if err := sweeper.Startup(context.Background()); err != nil {
			logger.Error("failed to reset temp directory", "error", err)
			os.Exit(1)
		}
	} else if err := fs.MkdirAll(cfg.Storage.TempPath, 0755); err != nil {
		logger.Error("failed to create temp directory", "error", err)
		os.Exit(1)
	}

	extractor, err := downloader.New(cfg.Download, fs, logger)
	if err != nil {
		logger.Error("failed to create extractor", "error", err)
		os.Exit(1)
	}
	if err := extractor.Check(); err != nil {
		// Not fatal: /ready reports it and prepare returns 503 until installed.
		logger.Warn("extraction tool unavailable", "tool", extractor.Name(), "error", err)
	}

	events, err := service.NewEventService(cfg.Events, logger)
	if err != nil {
		logger.Error("failed to create event service", "error", err)
		os.Exit(1)
	}

	// Initialize services
	tokens := repository.NewInMemoryTokenStore(repository.WithLogger(logger))
	downloadSvc := service.NewDownloadService(
		fs,
		tokens,
		sweeper,
		extractor,
		events,
		cfg.Download,
		logger,
	)

	var limiter *mw.IPRateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = mw.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	// Prepare waits on the extractor; leave it room to answer.
	requestTimeout := cfg.Download.Timeout + 30*time.Second

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		Download:          handler.NewDownloadHandler(downloadSvc, logger),
		Health:            handler.NewHealthHandler(downloadSvc, cfg.Storage.TempPath),
		Events:            handler.NewEventHandler(events, logger),
		Limiter:           limiter,
		APIKey:            cfg.Server.APIKey,
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		RequestTimeout:    requestTimeout,
		Logger:            logger,
	})

	// Periodic maintenance
	scheduler := worker.NewScheduler(logger)
	scheduler.Add(worker.Task{
		Name:     "token-sweep",
		Interval: cfg.Cleanup.TokenSweepInterval,
		Run:      downloadSvc.SweepTokens,
	})
	scheduler.Add(worker.Task{
		Name:       "file-sweep",
		Interval:   cfg.Cleanup.Interval,
		Run:        downloadSvc.SweepFiles,
		RunOnStart: !cfg.Cleanup.StartupWipe,
	})
	scheduler.Add(worker.Task{
		Name:     "event-retention",
		Interval: time.Hour,
		Run:      events.Prune,
	})
	if limiter != nil {
		scheduler.Add(worker.Task{
			Name:     "rate-limit-prune",
			Interval: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				limiter.Prune()
				return nil
			},
		})
	}
	scheduler.Start()

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			"addr", srv.Addr,
			"tool", extractor.Name(),
			"temp_path", cfg.Storage.TempPath,
		)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if err := scheduler.Stop(10 * time.Second); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}

	// Run pending session releases now instead of waiting out their delay.
	downloadSvc.Close()

	if err := events.Close(); err != nil {
		logger.Error("event service shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
