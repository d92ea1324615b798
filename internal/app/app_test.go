package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/branch-sheets-sync/internal/config"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
)

func dryRunConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.SpreadsheetIDs[records.StatusSuccess] = "ss-success"
	cfg.ArchiveDir = filepath.Join(t.TempDir(), "zips")
	return cfg
}

func TestNewDryRun(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, dryRunConfig(t), Options{DryRun: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Remote == nil {
		t.Fatal("dry run has no in-memory remote")
	}

	csv := "Branch Name,order status,Bill No,Total Bill Amount,Total Discount Amount,Total Tax Amount,Net Amount\nKILPAUK,Success,B1,100,0,0,100\n"
	u, err := a.Pipeline.Ingest(ctx, "export.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	sum, err := a.Pipeline.Sync(ctx, u.ID)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if sum.RowsUpdated != 1 {
		t.Errorf("RowsUpdated = %d, want 1", sum.RowsUpdated)
	}
	if titles := a.Remote.Titles("ss-success"); len(titles) != 1 || titles[0] != "KILPAUK" {
		t.Errorf("titles = %v", titles)
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	cfg := dryRunConfig(t)
	cfg.RedisAddress = "127.0.0.1:1"

	if _, err := New(context.Background(), cfg, Options{DryRun: true}); err == nil {
		t.Error("New() succeeded with unreachable redis")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	calls := 0
	a := &App{closers: []func() error{func() error { calls++; return nil }}}
	a.Close()
	a.Close()
	if calls != 1 {
		t.Errorf("closer called %d times, want 1", calls)
	}
}
