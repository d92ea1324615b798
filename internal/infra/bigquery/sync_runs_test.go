package bigquery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/google/go-cmp/cmp"
)

func TestNewSyncRunRow(t *testing.T) {
	started := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	sum := &syncer.Summary{
		RunID:       "run-1",
		Success:     false,
		RowsUpdated: 3,
		Counts:      map[string]map[string]int{"Success": {"KILPAUK": 3}},
		Branches: []syncer.BranchResult{
			{Status: records.StatusSuccess, Branch: "KILPAUK", Outcome: syncer.OutcomeAppended, Rows: 3},
			{Status: records.StatusSuccess, Branch: "ADYAR", Outcome: syncer.OutcomeSkipped, Error: "backend error"},
		},
		Dropped:    2,
		Error:      strings.Repeat("x", 3000),
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}

	row, err := NewSyncRunRow(sum)
	if err != nil {
		t.Fatalf("NewSyncRunRow() error = %v", err)
	}

	if row.RunID != "run-1" || row.RowsAppended != 3 || row.BranchesSkipped != 1 || row.DroppedRecords != 2 {
		t.Errorf("row = %+v", row)
	}
	if len(row.ErrorMessage) != maxErrorLen {
		t.Errorf("error message length = %d, want %d", len(row.ErrorMessage), maxErrorLen)
	}
	if !row.FinishedTS.Valid || !row.FinishedTS.Timestamp.Equal(started.Add(time.Minute)) {
		t.Errorf("FinishedTS = %+v", row.FinishedTS)
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(row.SummaryJSON.JSONVal), &payload); err != nil {
		t.Fatalf("summary json: %v", err)
	}
	if diff := cmp.Diff(sum.Counts, payload.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	if len(payload.Branches) != 2 {
		t.Errorf("branches = %d, want 2", len(payload.Branches))
	}
}

func TestNewSyncRunRowUnfinished(t *testing.T) {
	row, err := NewSyncRunRow(&syncer.Summary{RunID: "r", Success: true})
	if err != nil {
		t.Fatalf("NewSyncRunRow() error = %v", err)
	}
	if row.FinishedTS.Valid {
		t.Error("FinishedTS is valid for an unfinished run")
	}
}

func TestSyncRunRowSchema(t *testing.T) {
	schema, err := bigquery.InferSchema(SyncRunRow{})
	if err != nil {
		t.Fatalf("InferSchema() error = %v", err)
	}
	var names []string
	for _, f := range schema {
		names = append(names, f.Name)
	}
	want := []string{
		"run_id", "started_ts", "finished_ts", "success", "rows_appended",
		"branches_skipped", "dropped_records", "summary_json", "error_message",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("schema mismatch (-want +got):\n%s", diff)
	}
}
