// Package bigquery stores sync run history in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
)

// RunRepository records sync runs. It holds a shared BigQuery client to
// avoid creating a new connection for each run.
type RunRepository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRunRepository creates a RunRepository with its own client.
func NewRunRepository(ctx context.Context, projectID, datasetID string) (*RunRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRunRepository: creating client: %w", err)
	}
	return NewRunRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRunRepositoryWithClient wraps an existing client.
func NewRunRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *RunRepository {
	return &RunRepository{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (r *RunRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTable creates the sync_runs table when missing.
func (r *RunRepository) EnsureTable(ctx context.Context) error {
	return EnsureSyncRunsTableWithClient(ctx, r.client, r.datasetID)
}

// RecordRun implements syncer.RunRecorder.
func (r *RunRepository) RecordRun(ctx context.Context, sum *syncer.Summary) error {
	row, err := NewSyncRunRow(sum)
	if err != nil {
		return err
	}
	if err := InsertSyncRunWithClient(ctx, r.client, r.datasetID, row); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("run_id", row.RunID).
		Int64("rows_appended", row.RowsAppended).
		Msg("Recorded sync run")
	return nil
}

// ListRecentRuns returns the latest runs, newest first.
func (r *RunRepository) ListRecentRuns(ctx context.Context, limit int) ([]*SyncRunRow, error) {
	return ListRecentRunsWithClient(ctx, r.client, r.projectID, r.datasetID, limit)
}

var _ syncer.RunRecorder = (*RunRepository)(nil)
