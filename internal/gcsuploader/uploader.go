// Package gcsuploader copies built archives to Cloud Storage and fetches
// uploads referenced by gs:// URIs.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"google.golang.org/api/option"
)

// ArchivePrefix is the object prefix archives are stored under.
const ArchivePrefix = "archives/"

const uploadTimeout = 2 * time.Minute

// StorageService is the storage surface the API and CLI use.
type StorageService interface {
	// UploadArchive copies a local archive and returns its gs:// URI.
	UploadArchive(ctx context.Context, filePath string) (string, error)

	// Fetch downloads the object named by a gs:// URI.
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

// Uploader is the Cloud Storage implementation of StorageService.
type Uploader struct {
	client *storage.Client
	bucket string
}

// NewUploader creates an Uploader for bucket. It uses Application Default
// Credentials unless opts say otherwise.
func NewUploader(ctx context.Context, bucket string, opts ...option.ClientOption) (*Uploader, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// Close releases the storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// UploadArchive implements StorageService.
func (u *Uploader) UploadArchive(ctx context.Context, filePath string) (string, error) {
	object := ArchiveObjectName(filePath)
	if err := u.UploadFile(ctx, object, filePath); err != nil {
		return "", err
	}

	uri := "gs://" + u.bucket + "/" + object
	log := logger.FromContext(ctx)
	log.Info().Str("gcs_uri", uri).Msg("Uploaded archive")
	return uri, nil
}

// UploadFile uploads a local file to the bucket under objectName.
func (u *Uploader) UploadFile(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType(objectName)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}

	return nil
}

// Fetch implements StorageService.
func (u *Uploader) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := u.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}

	return data, nil
}

// ParseURI splits gs://bucket/path/to/object.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilename returns the last path element of a GCS URI,
// e.g. "gs://bucket/in/data.xlsx" → "data.xlsx".
func ExtractFilename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ArchiveObjectName maps a local archive path to its object name.
func ArchiveObjectName(filePath string) string {
	return ArchivePrefix + path.Base(strings.ReplaceAll(filePath, `\`, "/"))
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".zip":
		return "application/zip"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}

var _ StorageService = (*Uploader)(nil)
