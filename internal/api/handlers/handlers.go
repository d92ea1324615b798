package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dvloznov/branch-sheets-sync/internal/api/middleware"
	"github.com/dvloznov/branch-sheets-sync/internal/archive"
	"github.com/dvloznov/branch-sheets-sync/internal/cleanup"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
	"github.com/dvloznov/branch-sheets-sync/internal/pipeline"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/runlock"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	"github.com/dvloznov/branch-sheets-sync/internal/syncer"
	"github.com/dvloznov/branch-sheets-sync/internal/uploads"
	"github.com/rs/zerolog"
)

// MaxUploadBytes bounds multipart upload bodies.
const MaxUploadBytes = 32 << 20

// Pipeline is the part of pipeline.Pipeline the handlers drive.
type Pipeline interface {
	Ingest(ctx context.Context, filename string, r io.Reader) (*uploads.Upload, error)
	Sync(ctx context.Context, uploadID string) (*syncer.Summary, error)
	Archive(ctx context.Context, uploadID string) (*archive.Result, error)
	Check(ctx context.Context, st records.Status) ([]string, error)
}

// UploadResolver finds staged uploads; an empty id means the latest one.
type UploadResolver interface {
	Resolve(id string) (*uploads.Upload, error)
}

// ArchiveOpener maps archive names to local paths.
type ArchiveOpener interface {
	Open(name string) (string, error)
}

// Cleaner runs one cleanup pass.
type Cleaner interface {
	Run(ctx context.Context) (cleanup.Result, error)
}

// uploadRequest is the body of sync and archive requests. The body may be
// empty, which selects the latest upload.
type uploadRequest struct {
	UploadID string `json:"upload_id"`
}

func decodeUploadRequest(r *http.Request) (uploadRequest, error) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

// UploadsHandler handles file uploads.
type UploadsHandler struct {
	pipeline Pipeline
	log      zerolog.Logger
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(p Pipeline, log zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{
		pipeline: p,
		log:      log,
	}
}

// Upload handles POST /api/uploads
func (h *UploadsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			middleware.WriteError(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "No file selected")
		return
	}

	u, err := h.pipeline.Ingest(r.Context(), header.Filename, file)
	if err != nil {
		var mce *records.MissingColumnsError
		switch {
		case errors.As(err, &mce):
			middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success":         false,
				"error":           "Missing required columns",
				"missing_columns": mce.Missing,
			})
		case errors.Is(err, pipeline.ErrUnsupportedFile):
			middleware.WriteError(w, http.StatusBadRequest, "Unsupported file type; upload an .xlsx or .csv file")
		default:
			h.log.Warn().Err(err).Str("filename", header.Filename).Msg("Failed to read upload")
			middleware.WriteError(w, http.StatusBadRequest, "Error reading file: "+err.Error())
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"upload_id": u.ID,
		"filename":  u.Filename,
		"rows":      len(u.Records),
		"columns":   u.Columns,
		"preview":   u.Preview(uploads.PreviewSize),
	})
}

// SyncHandler starts sync runs.
type SyncHandler struct {
	pipeline  Pipeline
	uploads   UploadResolver
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(p Pipeline, u UploadResolver, publisher jobs.Publisher, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		pipeline:  p,
		uploads:   u,
		publisher: publisher,
		log:       log,
	}
}

// Sync handles POST /api/sync. The run is queued unless ?wait=true, in
// which case the summary is returned when the run finishes.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUploadRequest(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := h.uploads.Resolve(req.UploadID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "No data available. Please upload a file first.")
		return
	}

	if !wantsWait(r) {
		enqueue(w, r, h.publisher, h.log, jobs.JobTypeSync, u.ID)
		return
	}

	sum, err := h.pipeline.Sync(r.Context(), u.ID)
	switch {
	case errors.Is(err, runlock.ErrBusy):
		middleware.WriteError(w, http.StatusConflict, "Another sync run is in progress")
	case sum == nil:
		h.log.Error().Err(err).Str("upload_id", u.ID).Msg("Sync failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Sync failed")
	case errors.Is(err, sheets.ErrUnavailable):
		middleware.WriteJSON(w, http.StatusServiceUnavailable, sum)
	case err != nil:
		middleware.WriteJSON(w, http.StatusInternalServerError, sum)
	default:
		middleware.WriteJSON(w, http.StatusOK, sum)
	}
}

// ArchivesHandler builds and serves zip archives.
type ArchivesHandler struct {
	pipeline  Pipeline
	uploads   UploadResolver
	archives  ArchiveOpener
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewArchivesHandler creates a new archives handler.
func NewArchivesHandler(p Pipeline, u UploadResolver, archives ArchiveOpener, publisher jobs.Publisher, log zerolog.Logger) *ArchivesHandler {
	return &ArchivesHandler{
		pipeline:  p,
		uploads:   u,
		archives:  archives,
		publisher: publisher,
		log:       log,
	}
}

type archiveResponse struct {
	Success bool `json:"success"`
	*archive.Result
	DownloadURL string `json:"download_url"`
}

// Create handles POST /api/archives. ?async=true queues the build instead.
func (h *ArchivesHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUploadRequest(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := h.uploads.Resolve(req.UploadID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "No data available. Please upload a file first.")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		enqueue(w, r, h.publisher, h.log, jobs.JobTypeArchive, u.ID)
		return
	}

	res, err := h.pipeline.Archive(r.Context(), u.ID)
	if err != nil {
		h.log.Error().Err(err).Str("upload_id", u.ID).Msg("Failed to build archive")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build archive")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, archiveResponse{
		Success:     true,
		Result:      res,
		DownloadURL: "/api/archives/" + res.Filename,
	})
}

// Download handles GET /api/archives/{name}
func (h *ArchivesHandler) Download(w http.ResponseWriter, r *http.Request, name string) {
	path, err := h.archives.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidName):
			middleware.WriteError(w, http.StatusBadRequest, "Invalid archive name")
		case errors.Is(err, archive.ErrNotFound):
			middleware.WriteError(w, http.StatusNotFound, "Archive not found")
		default:
			h.log.Error().Err(err).Str("archive", name).Msg("Failed to open archive")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to open archive")
		}
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// SheetsHandler reports on the remote spreadsheets.
type SheetsHandler struct {
	pipeline Pipeline
	log      zerolog.Logger
}

// NewSheetsHandler creates a new sheets handler.
func NewSheetsHandler(p Pipeline, log zerolog.Logger) *SheetsHandler {
	return &SheetsHandler{
		pipeline: p,
		log:      log,
	}
}

// Check handles GET /api/sheets/check?status=Success
func (h *SheetsHandler) Check(w http.ResponseWriter, r *http.Request) {
	st := records.StatusSuccess
	if name := r.URL.Query().Get("status"); name != "" {
		parsed, ok := records.ParseStatus(name)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "Unknown status: "+name)
			return
		}
		st = parsed
	}

	titles, err := h.pipeline.Check(r.Context(), st)
	if err != nil {
		h.log.Warn().Err(err).Str("status", string(st)).Msg("Sheets check failed")
		switch {
		case errors.Is(err, syncer.ErrNoSpreadsheet):
			middleware.WriteError(w, http.StatusNotFound, "No spreadsheet configured for "+string(st))
		case errors.Is(err, sheets.ErrUnavailable):
			middleware.WriteError(w, http.StatusServiceUnavailable, "Google Sheets is unavailable: "+err.Error())
		default:
			middleware.WriteError(w, http.StatusBadGateway, "Google Sheets error: "+err.Error())
		}
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"status":     st,
		"worksheets": titles,
		"count":      len(titles),
	})
}

// CleanupHandler purges stale archives and uploads.
type CleanupHandler struct {
	cleaner Cleaner
	log     zerolog.Logger
}

// NewCleanupHandler creates a new cleanup handler.
func NewCleanupHandler(c Cleaner, log zerolog.Logger) *CleanupHandler {
	return &CleanupHandler{
		cleaner: c,
		log:     log,
	}
}

// Cleanup handles POST /api/cleanup
func (h *CleanupHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.cleaner.Run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Cleanup failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"archives_removed": res.Archives,
		"uploads_removed":  res.Uploads,
	})
}

func enqueue(w http.ResponseWriter, r *http.Request, publisher jobs.Publisher, log zerolog.Logger, kind jobs.JobType, uploadID string) {
	job := &jobs.SyncJob{
		Type:     kind,
		UploadID: uploadID,
	}

	if err := publisher.Publish(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_type", string(kind)).Msg("Failed to enqueue job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("job_type", string(kind)).Str("upload_id", uploadID).Msg("Job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":   true,
		"job_id":    job.JobID,
		"upload_id": uploadID,
		"status":    job.Status,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:     jobs.JobType(query.Get("type")),
		UploadID: query.Get("upload_id"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
