// Package app wires the configured services for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/archive"
	"github.com/dvloznov/branch-sheets-sync/internal/cleanup"
	"github.com/dvloznov/branch-sheets-sync/internal/config"
	"github.com/dvloznov/branch-sheets-sync/internal/gcsuploader"
	infraBQ "github.com/dvloznov/branch-sheets-sync/internal/infra/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/pipeline"
	"github.com/dvloznov/branch-sheets-sync/internal/runlock"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	sheetsgoogle "github.com/dvloznov/branch-sheets-sync/internal/sheets/google"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets/inmemory"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// Options adjust wiring for the CLI.
type Options struct {
	// DryRun writes to an in-memory remote without pacing.
	DryRun bool
}

// App holds the wired services.
type App struct {
	Syncer   *syncer.Syncer
	Uploads  *uploads.Store
	Archives *archive.Builder
	Pipeline *pipeline.Pipeline
	Cleaner  *cleanup.Cleaner

	// Remote is set in dry-run mode.
	Remote *inmemory.Remote

	closers []func() error
}

// New builds the services described by cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.FromContext(ctx)
	a := &App{}

	var client sheets.Client
	var syncOpts []syncer.Option
	if opts.DryRun {
		a.Remote = inmemory.New()
		client = a.Remote
		syncOpts = append(syncOpts, syncer.WithPacer(syncer.NopPacer{}))
		log.Info().Msg("Dry run: writing to an in-memory spreadsheet")
	} else {
		creds, err := cfg.Credentials()
		if err != nil {
			return nil, err
		}
		gc, err := sheetsgoogle.NewClient(ctx, creds)
		if err != nil {
			return nil, err
		}
		client = gc
	}

	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			a.Close()
			return nil, fmt.Errorf("New: connecting to redis at %s: %w", cfg.RedisAddress, err)
		}
		a.closers = append(a.closers, rdb.Close)
		syncOpts = append(syncOpts, syncer.WithLocker(runlock.NewRedis(rdb, cfg.RedisLockKey, cfg.RedisLockTTL)))
		log.Info().Str("redis", cfg.RedisAddress).Msg("Using Redis run lock")
	}

	if cfg.BigQueryProject != "" && !opts.DryRun {
		repo, err := infraBQ.NewRunRepository(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.EnsureTable(ctx); err != nil {
			log.Warn().Err(err).Msg("Unable to ensure sync_runs table; run history may not be recorded")
		}
		syncOpts = append(syncOpts, syncer.WithRecorder(repo))
		log.Info().Str("project", cfg.BigQueryProject).Str("dataset", cfg.BigQueryDataset).Msg("Recording run history in BigQuery")
	}

	// Left as a nil interface when no bucket is configured.
	var storage pipeline.StorageService
	if cfg.ArchiveBucket != "" {
		up, err := gcsuploader.NewUploader(ctx, cfg.ArchiveBucket)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, up.Close)
		storage = up
	}

	a.Syncer = syncer.New(client, cfg.Sync, syncOpts...)
	a.Uploads = uploads.NewStore(nil)
	a.Archives = archive.NewBuilder(cfg.ArchiveDir, nil)
	a.Pipeline = pipeline.New(a.Syncer, a.Archives, a.Uploads, storage)
	a.Cleaner = cleanup.New(a.Archives, a.Uploads, cfg.ArchiveMaxAge)
	return a, nil
}

// Close releases external clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
