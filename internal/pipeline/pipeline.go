// Package pipeline ties the upload, sync and archive steps together. The
// HTTP handlers, the job worker and the CLI all drive it.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dvloznov/branch-sheets-sync/internal/archive"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
)

var (
	// ErrUnsupportedFile is returned for uploads that are neither .xlsx nor .csv.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrNoStorage is returned for gs:// inputs when no bucket is configured.
	ErrNoStorage = errors.New("object storage is not configured")
)

// ParseFile reads an upload, choosing the parser by file extension.
func ParseFile(filename string, r io.Reader) (*records.Table, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return records.ReadWorkbook(r)
	case ".csv":
		return records.ReadCSV(r)
	default:
		return nil, fmt.Errorf("ParseFile: %q: %w", filename, ErrUnsupportedFile)
	}
}

// Pipeline runs uploads through sync and archive.
type Pipeline struct {
	syncer  Syncer
	builder ArchiveBuilder
	uploads UploadStore
	storage StorageService
}

// New creates a Pipeline. storage may be nil, in which case archives stay
// local and gs:// inputs are rejected.
func New(s Syncer, b ArchiveBuilder, u UploadStore, storage StorageService) *Pipeline {
	return &Pipeline{
		syncer:  s,
		builder: b,
		uploads: u,
		storage: storage,
	}
}

// Ingest parses an upload and stages it.
func (p *Pipeline) Ingest(ctx context.Context, filename string, r io.Reader) (*uploads.Upload, error) {
	table, err := ParseFile(filename, r)
	if err != nil {
		return nil, err
	}

	u := p.uploads.Put(filename, table)
	log := logger.FromContext(ctx)
	log.Info().
		Str("upload_id", u.ID).
		Str("filename", filename).
		Int("rows", len(u.Records)).
		Msg("Upload staged")
	return u, nil
}

// IngestFromGCS fetches an upload named by a gs:// URI and stages it.
func (p *Pipeline) IngestFromGCS(ctx context.Context, gcsURI string) (*uploads.Upload, error) {
	if p.storage == nil {
		return nil, ErrNoStorage
	}

	data, err := p.storage.Fetch(ctx, gcsURI)
	if err != nil {
		return nil, fmt.Errorf("IngestFromGCS: %w", err)
	}

	return p.Ingest(ctx, path.Base(gcsURI), bytes.NewReader(data))
}

// Sync appends a staged upload to the status spreadsheets. The summary is
// returned even when the run stopped early.
func (p *Pipeline) Sync(ctx context.Context, uploadID string) (*syncer.Summary, error) {
	u, err := p.uploads.Resolve(uploadID)
	if err != nil {
		return nil, fmt.Errorf("Sync: %w", err)
	}

	ctx = logger.WithContext(ctx, logger.FromContext(ctx).With().Str("upload_id", u.ID).Logger())
	return p.syncer.Run(ctx, u.Records)
}

// Archive builds the zip archive of a staged upload and copies it to object
// storage when configured. A failed copy leaves the local archive in place.
func (p *Pipeline) Archive(ctx context.Context, uploadID string) (*archive.Result, error) {
	u, err := p.uploads.Resolve(uploadID)
	if err != nil {
		return nil, fmt.Errorf("Archive: %w", err)
	}

	res, err := p.builder.Build(ctx, records.Partition(u.Records))
	if err != nil {
		return nil, err
	}

	if p.storage != nil {
		uri, err := p.storage.UploadArchive(ctx, res.Path)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("archive", res.Filename).Msg("Archive upload failed")
		} else {
			res.GCSURI = uri
		}
	}

	return res, nil
}

// Check lists the worksheet titles of one status spreadsheet.
func (p *Pipeline) Check(ctx context.Context, st records.Status) ([]string, error) {
	return p.syncer.Check(ctx, st)
}

// HandleJob is the jobs.JobHandler for sync and archive jobs. The result is
// stored on the job.
func (p *Pipeline) HandleJob(ctx context.Context, job jobs.Job) error {
	j, ok := job.(*jobs.SyncJob)
	if !ok {
		return fmt.Errorf("unexpected job type: %T", job)
	}

	switch j.Type {
	case jobs.JobTypeSync:
		sum, err := p.Sync(ctx, j.UploadID)
		if sum != nil {
			j.Result = sum
		}
		return err
	case jobs.JobTypeArchive:
		res, err := p.Archive(ctx, j.UploadID)
		if err != nil {
			return err
		}
		j.Result = res
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", j.Type)
	}
}
