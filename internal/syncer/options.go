package syncer

import (
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/sheetcache"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
)

// Options tunes a Syncer.
type Options struct {
	// SpreadsheetIDs maps each status to its remote spreadsheet. Statuses
	// without an id are skipped.
	SpreadsheetIDs map[records.Status]string

	// BatchSize branches are processed between BatchPause pauses.
	BatchSize  int
	BatchPause time.Duration

	// BranchPause follows every processed branch.
	BranchPause time.Duration

	// RetryBackoff precedes the single retry of a failed write.
	RetryBackoff time.Duration

	// CallTimeout bounds each remote call.
	CallTimeout time.Duration

	// RatePerMinute caps remote calls per minute; 0 disables the cap.
	RatePerMinute int

	CacheTTL      time.Duration
	WorksheetRows int
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		SpreadsheetIDs: map[records.Status]string{},
		BatchSize:      5,
		BatchPause:     15 * time.Second,
		BranchPause:    2 * time.Second,
		RetryBackoff:   30 * time.Second,
		CallTimeout:    60 * time.Second,
		RatePerMinute:  60,
		CacheTTL:       sheetcache.DefaultTTL,
		WorksheetRows:  sheets.DefaultWorksheetRows,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SpreadsheetIDs == nil {
		o.SpreadsheetIDs = d.SpreadsheetIDs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = d.CallTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	if o.WorksheetRows <= 0 {
		o.WorksheetRows = d.WorksheetRows
	}
	return o
}
