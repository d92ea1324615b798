package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/api"
	"github.com/dvloznov/branch-sheets-sync/internal/app"
	"github.com/dvloznov/branch-sheets-sync/internal/config"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs/inmemory"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	var (
		port   = flag.String("port", cfg.Port, "HTTP server port (or set PORT env)")
		dryRun = flag.Bool("dry-run", false, "Write to an in-memory spreadsheet instead of Google Sheets")
	)
	flag.Parse()

	// Initialize logger
	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("No API_KEY configured - API authentication is disabled")
	}

	ctx := logger.WithContext(context.Background(), log)

	services, err := app.New(ctx, cfg, app.Options{DryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Close()

	// Initialize job infrastructure. One worker keeps runs serialized.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, 1, jobStore, nil)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Msg("Starting job worker")
		if err := jobQueue.Start(workerCtx, services.Pipeline.HandleJob); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	scheduler, err := services.Cleaner.Schedule(workerCtx, cfg.CleanupSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cleanup")
	}

	handler := api.NewRouter(api.Deps{
		Pipeline:  services.Pipeline,
		Uploads:   services.Uploads,
		Archives:  services.Archives,
		Cleaner:   services.Cleaner,
		Publisher: jobQueue,
		Jobs:      jobStore,
		APIKey:    cfg.APIKey,
	}, log)

	// Create HTTP server. Synchronous syncs pace for minutes, so writes get a
	// long deadline.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	<-scheduler.Stop().Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Cancel worker context; an in-flight run stops at its next remote call.
	cancelWorker()

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
