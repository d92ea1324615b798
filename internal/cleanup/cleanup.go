// Package cleanup removes stale archives and staged uploads, on demand or
// on a cron schedule.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/robfig/cron/v3"
)

// ArchivePurger removes archive files older than maxAge.
type ArchivePurger interface {
	Purge(ctx context.Context, maxAge time.Duration) (int, error)
}

// UploadPurger drops staged uploads older than maxAge.
type UploadPurger interface {
	Purge(ctx context.Context, maxAge time.Duration) int
}

// Result counts what one pass removed.
type Result struct {
	Archives int `json:"archives_removed"`
	Uploads  int `json:"uploads_removed"`
}

// Cleaner purges archives and uploads older than one age limit.
type Cleaner struct {
	archives ArchivePurger
	uploads  UploadPurger
	maxAge   time.Duration
}

// New creates a Cleaner. Either purger may be nil.
func New(archives ArchivePurger, uploads UploadPurger, maxAge time.Duration) *Cleaner {
	return &Cleaner{archives: archives, uploads: uploads, maxAge: maxAge}
}

// Run performs one cleanup pass.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	var res Result

	if c.uploads != nil {
		res.Uploads = c.uploads.Purge(ctx, c.maxAge)
	}
	if c.archives != nil {
		n, err := c.archives.Purge(ctx, c.maxAge)
		res.Archives = n
		if err != nil {
			return res, fmt.Errorf("Run: purging archives: %w", err)
		}
	}

	return res, nil
}

// Schedule starts a cron scheduler that runs a pass per spec (standard
// five-field cron or descriptors such as "@every 15m"). Overlapping passes
// are skipped. The caller stops the returned scheduler.
func (c *Cleaner) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	log := logger.FromContext(ctx)

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := sched.AddFunc(spec, func() {
		res, err := c.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Scheduled cleanup failed")
			return
		}
		log.Debug().
			Int("archives_removed", res.Archives).
			Int("uploads_removed", res.Uploads).
			Msg("Scheduled cleanup finished")
	})
	if err != nil {
		return nil, fmt.Errorf("Schedule: unable to schedule cleanup %q: %w", spec, err)
	}

	sched.Start()
	log.Info().Str("schedule", spec).Dur("max_age", c.maxAge).Msg("Cleanup scheduled")
	return sched, nil
}
