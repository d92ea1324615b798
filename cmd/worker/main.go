package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/app"
	"github.com/dvloznov/branch-sheets-sync/internal/config"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs/inmemory"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	var (
		source   = flag.String("source", os.Getenv("SYNC_SOURCE"), "Export to re-sync on a schedule: local path or gs:// URI (or set SYNC_SOURCE env)")
		schedule = flag.String("schedule", os.Getenv("SYNC_SCHEDULE"), "Cron schedule for the re-sync, e.g. \"@every 1h\" (or set SYNC_SCHEDULE env)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	services, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Close()

	// Initialize job store and queue
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, 1, jobStore, nil)

	log.Info().Msg("Starting worker service")

	if err := jobQueue.Start(ctx, services.Pipeline.HandleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	cleanupSched, err := services.Cleaner.Schedule(ctx, cfg.CleanupSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule cleanup")
	}

	var syncSched *cron.Cron
	if *source != "" && *schedule != "" {
		syncSched = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		_, err := syncSched.AddFunc(*schedule, func() {
			if err := enqueueSource(ctx, services, jobQueue, *source); err != nil {
				log.Error().Err(err).Str("source", *source).Msg("Scheduled sync not queued")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("schedule", *schedule).Msg("Invalid sync schedule")
		}
		syncSched.Start()
		log.Info().Str("source", *source).Str("schedule", *schedule).Msg("Scheduled re-sync enabled")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	if syncSched != nil {
		<-syncSched.Stop().Done()
	}
	<-cleanupSched.Stop().Done()

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}

// enqueueSource stages the current contents of source and queues a sync of
// it. Rows already present remotely are skipped by the sync itself.
func enqueueSource(ctx context.Context, services *app.App, publisher jobs.Publisher, source string) error {
	u, err := stage(ctx, services, source)
	if err != nil {
		return err
	}

	job := &jobs.SyncJob{Type: jobs.JobTypeSync, UploadID: u.ID}
	if err := publisher.Publish(ctx, job); err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Info().Str("job_id", job.JobID).Str("upload_id", u.ID).Msg("Scheduled sync queued")
	return nil
}

func stage(ctx context.Context, services *app.App, source string) (*uploads.Upload, error) {
	if strings.HasPrefix(source, "gs://") {
		return services.Pipeline.IngestFromGCS(ctx, source)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return services.Pipeline.Ingest(ctx, filepath.Base(source), f)
}
