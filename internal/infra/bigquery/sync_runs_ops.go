package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const syncRunsTable = "sync_runs"

// InsertSyncRunWithClient streams one row into <dataset>.sync_runs.
func InsertSyncRunWithClient(ctx context.Context, client *bigquery.Client, datasetID string, row *SyncRunRow) error {
	inserter := client.Dataset(datasetID).Table(syncRunsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertSyncRun: inserting row: %w", err)
	}
	return nil
}

// ListRecentRunsWithClient returns the latest runs, newest first.
func ListRecentRunsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, limit int) ([]*SyncRunRow, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT
			run_id,
			started_ts,
			finished_ts,
			success,
			rows_appended,
			branches_skipped,
			dropped_records,
			summary_json,
			error_message
		FROM `+"`%s.%s.%s`"+`
		ORDER BY started_ts DESC
		LIMIT @limit
	`, projectID, datasetID, syncRunsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecentRuns: reading query: %w", err)
	}

	var runs []*SyncRunRow
	for {
		var row SyncRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecentRuns: iterating: %w", err)
		}
		runs = append(runs, &row)
	}

	return runs, nil
}

// EnsureSyncRunsTableWithClient creates <dataset>.sync_runs from the
// SyncRunRow schema when it does not exist.
func EnsureSyncRunsTableWithClient(ctx context.Context, client *bigquery.Client, datasetID string) error {
	log := logger.FromContext(ctx)
	table := client.Dataset(datasetID).Table(syncRunsTable)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureSyncRunsTable: reading metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(SyncRunRow{})
	if err != nil {
		return fmt.Errorf("EnsureSyncRunsTable: inferring schema: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "started_ts",
		},
	}
	if err := table.Create(ctx, meta); err != nil {
		return fmt.Errorf("EnsureSyncRunsTable: creating table: %w", err)
	}

	log.Info().Str("dataset", datasetID).Str("table", syncRunsTable).Msg("Created sync runs table")
	return nil
}
