// Package api assembles the HTTP routes and middleware of the sync service.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/api/handlers"
	"github.com/dvloznov/branch-sheets-sync/internal/api/middleware"
	"github.com/dvloznov/branch-sheets-sync/internal/jobs"
	"github.com/rs/zerolog"
)

// Deps are the services behind the routes.
type Deps struct {
	Pipeline  handlers.Pipeline
	Uploads   handlers.UploadResolver
	Archives  handlers.ArchiveOpener
	Cleaner   handlers.Cleaner
	Publisher jobs.Publisher
	Jobs      jobs.JobStore

	// APIKey enables key authentication when set.
	APIKey string
}

// NewRouter returns the full handler chain.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	uploadsHandler := handlers.NewUploadsHandler(d.Pipeline, log)
	syncHandler := handlers.NewSyncHandler(d.Pipeline, d.Uploads, d.Publisher, log)
	archivesHandler := handlers.NewArchivesHandler(d.Pipeline, d.Uploads, d.Archives, d.Publisher, log)
	sheetsHandler := handlers.NewSheetsHandler(d.Pipeline, log)
	cleanupHandler := handlers.NewCleanupHandler(d.Cleaner, log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, log)

	mux := http.NewServeMux()

	// Upload endpoints
	mux.HandleFunc("/api/uploads", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			uploadsHandler.Upload(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Sync endpoints
	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			syncHandler.Sync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Archive endpoints
	mux.HandleFunc("/api/archives", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			archivesHandler.Create(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/archives/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			name := strings.TrimPrefix(r.URL.Path, "/api/archives/")
			if name == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Archive name is required")
				return
			}
			archivesHandler.Download(w, r, name)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Sheets endpoints
	mux.HandleFunc("/api/sheets/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			sheetsHandler.Check(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			cleanupHandler.Cleanup(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(d.APIKey)(mux),
				),
			),
		),
	)
}
