// Package syncer appends new records to the per-status, per-branch
// worksheets. A run walks the partitions in order, creates missing
// worksheets, skips bill numbers already present, writes each branch as one
// block and paces itself against the remote quota.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/reconcile"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/runlock"
	"github.com/dvloznov/branch-sheets-sync/internal/sheetcache"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoSpreadsheet is returned by Check for a status without a configured
// spreadsheet.
var ErrNoSpreadsheet = errors.New("no spreadsheet configured for status")

// Syncer runs syncs against one sheets.Client. Each run reads worksheet
// state into its own cache, so rows appended by another process between
// runs are always seen. The run lock keeps runs from overlapping.
type Syncer struct {
	client   sheets.Client
	opts     Options
	shared   *sheetcache.Cache
	pacer    Pacer
	locker   runlock.Locker
	recorder RunRecorder
	clock    clock.Clock
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithPacer replaces the rate-limited pacer.
func WithPacer(p Pacer) Option { return func(s *Syncer) { s.pacer = p } }

// WithLocker replaces the in-process run lock.
func WithLocker(l runlock.Locker) Option { return func(s *Syncer) { s.locker = l } }

// WithRecorder stores each run summary.
func WithRecorder(r RunRecorder) Option { return func(s *Syncer) { s.recorder = r } }

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(s *Syncer) { s.clock = c } }

// WithCache makes every run share c instead of starting from an empty
// cache. Only safe while this Syncer is the sole writer of its worksheets.
func WithCache(c *sheetcache.Cache) Option { return func(s *Syncer) { s.shared = c } }

// New creates a Syncer.
func New(client sheets.Client, opts Options, options ...Option) *Syncer {
	s := &Syncer{
		client:   client,
		opts:     opts.withDefaults(),
		locker:   runlock.NewLocal(),
		recorder: NopRecorder{},
		clock:    clock.Real{},
	}
	for _, o := range options {
		o(s)
	}
	if s.pacer == nil {
		s.pacer = NewRatePacer(s.opts.RatePerMinute)
	}
	return s
}

// runCache returns the cache for one run.
func (s *Syncer) runCache() *sheetcache.Cache {
	if s.shared != nil {
		return s.shared
	}
	return sheetcache.New(s.opts.CacheTTL, s.clock)
}

// Run appends every new record. It returns the summary together with the
// error that stopped the run, if any: a cancelled context or an
// authentication/availability failure. Per-branch failures do not stop the
// run; they appear as skipped branches. runlock.ErrBusy is returned without
// a summary and without touching the remote.
func (s *Syncer) Run(ctx context.Context, recs []records.Record) (*Summary, error) {
	log := logger.FromContext(ctx)

	lease, err := s.locker.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: acquiring run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	sum := newSummary(uuid.NewString(), s.clock.Now())
	log = log.With().Str("run_id", sum.RunID).Logger()
	ctx = logger.WithContext(ctx, log)

	parts := records.Partition(recs)
	sum.Dropped = parts.Dropped
	if parts.Dropped > 0 {
		log.Warn().Int("dropped", parts.Dropped).Msg("Records with unrecognized order status excluded")
	}

	log.Info().
		Int("records", parts.Total()).
		Int("partitions", len(parts.Groups)).
		Str("stamp", sum.stamp.String()).
		Msg("Starting sheet sync")

	runErr := s.run(ctx, parts, sum, s.runCache())
	sum.finish(s.clock.Now(), runErr)

	if err := s.recorder.RecordRun(context.WithoutCancel(ctx), sum); err != nil {
		log.Warn().Err(err).Msg("Failed to record sync run")
	}

	if runErr != nil {
		log.Error().Err(runErr).Int("rows_updated", sum.RowsUpdated).Msg("Sheet sync aborted")
		return sum, fmt.Errorf("Run: %w", runErr)
	}

	log.Info().
		Int("rows_updated", sum.RowsUpdated).
		Int("skipped", len(sum.Skipped())).
		Msg("Sheet sync completed")
	return sum, nil
}

func (s *Syncer) run(ctx context.Context, parts *records.Partitioned, sum *Summary, cache *sheetcache.Cache) error {
	log := logger.FromContext(ctx)
	processed := 0

	for _, st := range records.Statuses {
		groups := parts.ByStatus(st)
		if len(groups) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		spreadsheetID := s.opts.SpreadsheetIDs[st]
		if spreadsheetID == "" {
			log.Warn().Str("status", string(st)).Msg("No spreadsheet configured, skipping status")
			skipAll(sum, groups, ErrNoSpreadsheet)
			continue
		}

		index, err := s.listWorksheets(ctx, spreadsheetID)
		if err != nil {
			if fatal(ctx, err) {
				return err
			}
			log.Warn().Err(err).Str("status", string(st)).Msg("Failed to list worksheets, skipping status")
			skipAll(sum, groups, err)
			continue
		}

		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return err
			}

			res, err := s.syncBranch(ctx, cache, spreadsheetID, index, g, sum.stamp)
			sum.add(res)
			if err != nil && fatal(ctx, err) {
				return err
			}

			processed++
			if err := s.pace(ctx, processed); err != nil {
				return err
			}
		}
	}

	return nil
}

// fatal reports whether err must stop the whole run.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, sheets.ErrUnavailable) || ctx.Err() != nil
}

func skipAll(sum *Summary, groups []records.Group, err error) {
	for _, g := range groups {
		sum.add(BranchResult{
			Status:    g.Key.Status,
			Branch:    g.Key.Branch,
			Worksheet: records.SheetTitle(g.Key.Branch),
			Outcome:   OutcomeSkipped,
			Error:     err.Error(),
		})
	}
}

func (s *Syncer) pace(ctx context.Context, processed int) error {
	if processed%s.opts.BatchSize == 0 {
		log := logger.FromContext(ctx)
		log.Info().
			Int("processed", processed).
			Dur("pause", s.opts.BatchPause).
			Msg("Batch pause")
		if err := s.pacer.Pause(ctx, s.opts.BatchPause); err != nil {
			return err
		}
	}
	return s.pacer.Pause(ctx, s.opts.BranchPause)
}

func (s *Syncer) syncBranch(ctx context.Context, cache *sheetcache.Cache, spreadsheetID string, index worksheetIndex, g records.Group, stamp reconcile.Stamp) (BranchResult, error) {
	title := records.SheetTitle(g.Key.Branch)
	res := BranchResult{
		Status:    g.Key.Status,
		Branch:    g.Key.Branch,
		Worksheet: title,
	}
	log := logger.FromContext(ctx).With().
		Str("status", string(g.Key.Status)).
		Str("branch", g.Key.Branch).
		Str("worksheet", title).
		Logger()
	ctx = logger.WithContext(ctx, log)

	skip := func(err error) (BranchResult, error) {
		log.Warn().Err(err).Msg("Skipping branch")
		res.Outcome = OutcomeSkipped
		res.Error = err.Error()
		return res, err
	}

	ws, created, err := s.resolveWorksheet(ctx, cache, spreadsheetID, title, index, stamp)
	res.Created = created
	if err != nil {
		return skip(err)
	}
	res.Worksheet = ws.Title

	ref := sheetcache.Ref{SpreadsheetID: spreadsheetID, Title: ws.Title}
	snap, err := cache.Load(ctx, ref, s.reader())
	if err != nil {
		return skip(err)
	}

	fresh := reconcile.Filter(snap, g.Records)
	if len(fresh) == 0 {
		log.Info().Int("candidates", len(g.Records)).Msg("No new records")
		res.Outcome = OutcomeUpToDate
		return res, nil
	}

	plan := reconcile.Plan(snap, fresh, stamp)
	rng := plan.Range(ws.Title)
	if err := s.writeWithRetry(ctx, spreadsheetID, rng, plan.Rows, log); err != nil {
		return skip(err)
	}

	cache.RecordAppend(ref, plan.Keys, plan.LastSerial, plan.LastContentRow())

	log.Info().
		Int("rows", plan.Records).
		Int("duplicates", len(g.Records)-len(fresh)).
		Str("range", rng).
		Int("start_serial", plan.StartSerial).
		Msg("Appended records")

	res.Outcome = OutcomeAppended
	res.Rows = plan.Records
	return res, nil
}

// resolveWorksheet finds the worksheet for title or creates it with its
// banner and header. A create conflict triggers one re-list of the
// spreadsheet.
func (s *Syncer) resolveWorksheet(ctx context.Context, cache *sheetcache.Cache, spreadsheetID, title string, index worksheetIndex, stamp reconcile.Stamp) (sheets.Worksheet, bool, error) {
	log := logger.FromContext(ctx)

	if ws, ok := index.lookup(title); ok {
		return ws, false, nil
	}

	var ws sheets.Worksheet
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		ws, err = s.client.CreateWorksheet(ctx, spreadsheetID, title, s.opts.WorksheetRows, sheets.Columns)
		return err
	})

	if errors.Is(err, sheets.ErrAlreadyExists) {
		log.Warn().Err(err).Msg("Worksheet already exists, refreshing worksheet list")
		list, lerr := s.fetchWorksheets(ctx, spreadsheetID)
		if lerr != nil {
			return sheets.Worksheet{}, false, lerr
		}
		index.replace(list)
		if ws, ok := index.lookup(title); ok {
			return ws, false, nil
		}
		return sheets.Worksheet{}, false, fmt.Errorf("worksheet %q not listed after create conflict: %w", title, err)
	}
	if err != nil {
		return sheets.Worksheet{}, false, fmt.Errorf("creating worksheet %q: %w", title, err)
	}

	index.add(ws)
	log.Info().Int("rows", ws.Rows).Msg("Created worksheet")

	headerRange := sheets.A1Range(ws.Title, 1, sheetcache.HeaderRows)
	err = s.call(ctx, func(ctx context.Context) error {
		return s.client.WriteRange(ctx, spreadsheetID, headerRange, reconcile.HeaderRows(stamp))
	})
	if err != nil {
		return ws, true, fmt.Errorf("writing header of %q: %w", ws.Title, err)
	}

	cache.Seed(sheetcache.Ref{SpreadsheetID: spreadsheetID, Title: ws.Title}, sheetcache.HeaderOnlySnapshot())
	return ws, true, nil
}

// writeWithRetry issues the block write and, after RetryBackoff, repeats the
// same range once.
func (s *Syncer) writeWithRetry(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}, log zerolog.Logger) error {
	write := func(ctx context.Context) error {
		return s.client.WriteRange(ctx, spreadsheetID, rng, rows)
	}

	err := s.call(ctx, write)
	if err == nil {
		return nil
	}
	if fatal(ctx, err) {
		return err
	}

	log.Warn().
		Err(err).
		Str("range", rng).
		Dur("backoff", s.opts.RetryBackoff).
		Msg("Write failed, retrying once")

	if err := s.pacer.Pause(ctx, s.opts.RetryBackoff); err != nil {
		return err
	}
	if err := s.call(ctx, write); err != nil {
		return fmt.Errorf("writing %s after retry: %w", rng, err)
	}

	log.Info().Str("range", rng).Msg("Retry succeeded")
	return nil
}

// Check lists the worksheet titles of one status's spreadsheet.
func (s *Syncer) Check(ctx context.Context, st records.Status) ([]string, error) {
	spreadsheetID := s.opts.SpreadsheetIDs[st]
	if spreadsheetID == "" {
		return nil, fmt.Errorf("Check: %s: %w", st, ErrNoSpreadsheet)
	}

	var list []sheets.Worksheet
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		list, err = s.client.ListWorksheets(ctx, spreadsheetID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}

	titles := make([]string, 0, len(list))
	for _, ws := range list {
		titles = append(titles, ws.Title)
	}
	return titles, nil
}

// call paces and time-limits one remote call.
func (s *Syncer) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (s *Syncer) reader() sheetcache.Reader {
	return sheetcache.ReaderFunc(func(ctx context.Context, spreadsheetID, title string) ([][]string, error) {
		var values [][]string
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			values, err = s.client.ReadAll(ctx, spreadsheetID, title)
			return err
		})
		return values, err
	})
}

func (s *Syncer) fetchWorksheets(ctx context.Context, spreadsheetID string) ([]sheets.Worksheet, error) {
	var list []sheets.Worksheet
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		list, err = s.client.ListWorksheets(ctx, spreadsheetID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing worksheets: %w", err)
	}
	return list, nil
}

func (s *Syncer) listWorksheets(ctx context.Context, spreadsheetID string) (worksheetIndex, error) {
	list, err := s.fetchWorksheets(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}

	index := make(worksheetIndex, len(list))
	index.replace(list)
	return index, nil
}

// worksheetIndex maps lower-cased titles to worksheets.
type worksheetIndex map[string]sheets.Worksheet

func (idx worksheetIndex) lookup(title string) (sheets.Worksheet, bool) {
	ws, ok := idx[strings.ToLower(title)]
	return ws, ok
}

func (idx worksheetIndex) add(ws sheets.Worksheet) {
	idx[strings.ToLower(ws.Title)] = ws
}

func (idx worksheetIndex) replace(list []sheets.Worksheet) {
	clear(idx)
	for _, ws := range list {
		idx.add(ws)
	}
}
