package pipeline

import (
	"context"

	"github.com/dvloznov/branch-sheets-sync/internal/archive"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
)

// Syncer appends records to the status spreadsheets.
type Syncer interface {
	Run(ctx context.Context, recs []records.Record) (*syncer.Summary, error)
	Check(ctx context.Context, st records.Status) ([]string, error)
}

// ArchiveBuilder writes zip archives of partitioned records.
type ArchiveBuilder interface {
	Build(ctx context.Context, parts *records.Partitioned) (*archive.Result, error)
}

// UploadStore stages parsed uploads.
type UploadStore interface {
	Put(filename string, table *records.Table) *uploads.Upload
	Resolve(id string) (*uploads.Upload, error)
}

// StorageService copies archives to and fetches uploads from object storage.
// It is satisfied by gcsuploader.Uploader.
type StorageService interface {
	UploadArchive(ctx context.Context, filePath string) (string, error)
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}
