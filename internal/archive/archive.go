// Package archive packages partitioned records into one zip of Excel
// workbooks: a workbook per status plus one per (status, branch), laid out
// as status/status.xlsx and status/branch_status.xlsx.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
)

const (
	// DefaultDir is where archives are written when no directory is set.
	DefaultDir = "temp_zips"

	filePrefix = "branch_data_"
	fileExt    = ".zip"
)

var (
	// ErrInvalidName is returned for archive names that are not plain
	// archive file names.
	ErrInvalidName = errors.New("invalid archive name")

	// ErrNotFound is returned when a named archive does not exist.
	ErrNotFound = errors.New("archive not found")
)

// Result describes a built archive.
type Result struct {
	Filename      string         `json:"zip_filename"`
	Path          string         `json:"-"`
	StatusCount   int            `json:"status_count"`
	StatusSummary map[string]int `json:"status_summary"`
	TotalRecords  int            `json:"total_records"`
	Entries       []string       `json:"entries"`
	Size          int64          `json:"size"`
	GCSURI        string         `json:"gcs_uri,omitempty"`
}

// Builder writes archives into one directory.
type Builder struct {
	dir   string
	clock clock.Clock
}

// NewBuilder returns a Builder writing into dir.
func NewBuilder(dir string, clk clock.Clock) *Builder {
	if dir == "" {
		dir = DefaultDir
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Builder{dir: dir, clock: clk}
}

// Dir returns the archive directory.
func (b *Builder) Dir() string {
	return b.dir
}

// Build writes every status that has records. Nothing is deduplicated and
// no remote state is consulted.
func (b *Builder) Build(ctx context.Context, parts *records.Partitioned) (*Result, error) {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("Build: creating %s: %w", b.dir, err)
	}

	name := filePrefix + b.clock.Now().Format("20060102_150405") + fileExt
	path := filepath.Join(b.dir, name)

	res := &Result{
		Filename:      name,
		Path:          path,
		StatusSummary: make(map[string]int),
		TotalRecords:  parts.Total() + parts.Dropped,
	}

	if err := b.write(ctx, path, parts, res); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("Build: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	res.Size = info.Size()

	log.Info().
		Str("archive", name).
		Int("statuses", res.StatusCount).
		Int("entries", len(res.Entries)).
		Int64("bytes", res.Size).
		Msg("Archive built")
	return res, nil
}

func (b *Builder) write(ctx context.Context, path string, parts *records.Partitioned, res *Result) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(out)
	for _, st := range records.Statuses {
		recs := parts.Records(st)
		if len(recs) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		status := string(st)
		if err := addWorkbook(zw, status+"/"+status+".xlsx", recs, res); err != nil {
			return err
		}
		for _, g := range parts.ByStatus(st) {
			entry := status + "/" + FileSafe(g.Key.Branch) + "_" + status + ".xlsx"
			if err := addWorkbook(zw, entry, g.Records, res); err != nil {
				return err
			}
		}

		res.StatusCount++
		res.StatusSummary[status] = len(recs)
	}

	return zw.Close()
}

func addWorkbook(zw *zip.Writer, entry string, recs []records.Record, res *Result) error {
	f, err := Workbook(recs)
	if err != nil {
		return fmt.Errorf("%s: %w", entry, err)
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("%s: %w", entry, err)
	}

	w, err := zw.CreateHeader(&zip.FileHeader{Name: entry, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("%s: %w", entry, err)
	}
	if _, err := io.Copy(w, buf); err != nil {
		return fmt.Errorf("%s: %w", entry, err)
	}

	res.Entries = append(res.Entries, entry)
	return nil
}

// FileSafe replaces path separators and other characters that are unsafe in
// zip entry names.
func FileSafe(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Open resolves an archive name to its path. Only bare archive file names
// are accepted.
func (b *Builder) Open(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("Open: %q: %w", name, ErrInvalidName)
	}
	path := filepath.Join(b.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("Open: %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("Open: %w", err)
	}
	return path, nil
}

// Purge removes archives older than maxAge and returns how many were
// removed.
func (b *Builder) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	log := logger.FromContext(ctx)

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("Purge: %w", err)
	}

	cutoff := b.clock.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("archive", e.Name()).Msg("Failed to remove archive")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("Purged old archives")
	}
	return removed, nil
}
