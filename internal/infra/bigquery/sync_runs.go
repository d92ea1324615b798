package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
)

const maxErrorLen = 2000

// SyncRunRow is one sync run in the sync_runs table.
type SyncRunRow struct {
	RunID string `bigquery:"run_id"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Success         bool  `bigquery:"success"`
	RowsAppended    int64 `bigquery:"rows_appended"`
	BranchesSkipped int64 `bigquery:"branches_skipped"`
	DroppedRecords  int64 `bigquery:"dropped_records"`

	SummaryJSON  bigquery.NullJSON `bigquery:"summary_json"`  // NULLABLE
	ErrorMessage string            `bigquery:"error_message"` // NULLABLE
}

type summaryPayload struct {
	Counts   map[string]map[string]int `json:"summary"`
	Branches []syncer.BranchResult     `json:"branches"`
}

// NewSyncRunRow converts a finished run summary.
func NewSyncRunRow(sum *syncer.Summary) (*SyncRunRow, error) {
	payload, err := json.Marshal(summaryPayload{Counts: sum.Counts, Branches: sum.Branches})
	if err != nil {
		return nil, fmt.Errorf("NewSyncRunRow: marshaling summary: %w", err)
	}

	errMsg := sum.Error
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}

	row := &SyncRunRow{
		RunID:           sum.RunID,
		StartedTS:       sum.StartedAt,
		Success:         sum.Success,
		RowsAppended:    int64(sum.RowsUpdated),
		BranchesSkipped: int64(len(sum.Skipped())),
		DroppedRecords:  int64(sum.Dropped),
		SummaryJSON:     bigquery.NullJSON{JSONVal: string(payload), Valid: true},
		ErrorMessage:    errMsg,
	}
	if !sum.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: sum.FinishedAt, Valid: true}
	}
	return row, nil
}
