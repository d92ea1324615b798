package sheetcache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
)

type countingReader struct {
	values [][]string
	err    error
	calls  int
}

func (r *countingReader) ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.values, nil
}

var existingSheet = [][]string{
	{"Data Saved On: 01-03-2024 10:00:00"},
	{"S No", "Id", "Bill No", "Branch Name"},
	{"1", "11", "B1", "KILPAUK"},
	{"2", "12", " B2 ", "KILPAUK"},
	{"", "", "", ""},
	{"", "", "TOTAL", "", "", "", "300"},
	{},
	{"Data Saved On: 02-03-2024 10:00:00"},
	{"S No", "Id", "Bill No", "Branch Name"},
	{"3", "13", "B3", "KILPAUK"},
	{"x7", "14", "", "KILPAUK"},
	{" 99", "15", "B5", "KILPAUK"},
	{"", "", "TOTAL", "", "", "", "50"},
}

func TestBuildSnapshot(t *testing.T) {
	snap := BuildSnapshot(existingSheet)

	for _, k := range []string{"B1", "B2", "B3", "B5"} {
		if !snap.Has(k) {
			t.Errorf("expected key %q", k)
		}
	}
	for _, k := range []string{"TOTAL", "Bill No", "", " B2 "} {
		if snap.Has(k) {
			t.Errorf("unexpected key %q", k)
		}
	}
	if snap.MaxSerial != 3 {
		t.Errorf("MaxSerial = %d, want 3 (non-digit cells skipped)", snap.MaxSerial)
	}
	if snap.LastRow != 13 || snap.NextRow() != 14 {
		t.Errorf("LastRow = %d, NextRow = %d, want 13 and 14", snap.LastRow, snap.NextRow())
	}
	if snap.HeaderOnly || snap.StartSerial() != 4 {
		t.Errorf("HeaderOnly = %v, StartSerial = %d", snap.HeaderOnly, snap.StartSerial())
	}
}

func TestBuildSnapshotHeaderOnly(t *testing.T) {
	tests := []struct {
		name    string
		values  [][]string
		lastRow int
	}{
		{"empty", nil, 0},
		{"header", existingSheet[:2], 2},
		{"header with trailing blanks", append(existingSheet[:2:2], []string{"", ""}, nil), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := BuildSnapshot(tt.values)
			if !snap.HeaderOnly || snap.LastRow != tt.lastRow || snap.StartSerial() != 1 || len(snap.Keys) != 0 {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

func TestCacheFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	c := New(5*time.Minute, clk)
	ref := Ref{SpreadsheetID: "ss", Title: "KILPAUK"}
	reader := &countingReader{values: existingSheet}

	if _, fresh := c.Get(ref); fresh {
		t.Fatal("empty cache reported fresh entry")
	}

	if _, err := c.Load(ctx, ref, reader); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	clk.Advance(4*time.Minute + 59*time.Second)
	if _, err := c.Load(ctx, ref, reader); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reader.calls != 1 {
		t.Errorf("reads inside window = %d, want 1", reader.calls)
	}

	clk.Advance(time.Second)
	if _, fresh := c.Get(Ref{SpreadsheetID: "ss", Title: "kilpauk"}); fresh {
		t.Error("entry should be stale at exactly the window")
	}
	if _, err := c.Load(ctx, ref, reader); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reader.calls != 2 {
		t.Errorf("reads after window = %d, want 2", reader.calls)
	}
}

func TestCacheRefreshFailureKeepsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	c := New(time.Minute, clk)
	ref := Ref{SpreadsheetID: "ss", Title: "KILPAUK"}

	if _, err := c.Refresh(ctx, ref, &countingReader{values: existingSheet}); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	clk.Advance(2 * time.Minute)

	boom := errors.New("quota exceeded")
	snap, err := c.Refresh(ctx, ref, &countingReader{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("Refresh() error = %v, want %v", err, boom)
	}
	if len(snap.Keys) != 0 {
		t.Errorf("failed refresh returned %d keys, want empty", len(snap.Keys))
	}

	old, fresh := c.Get(ref)
	if fresh {
		t.Error("failed refresh must not mark the entry fresh")
	}
	if !old.Has("B1") {
		t.Error("failed refresh should leave the previous entry in place")
	}
	if out := buf.String(); !strings.Contains(out, "Failed to refresh worksheet state") || !strings.Contains(out, `"worksheet":"KILPAUK"`) {
		t.Errorf("refresh failure not logged: %s", out)
	}
}

func TestCacheRecordAppend(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	c := New(time.Minute, clk)
	ref := Ref{SpreadsheetID: "ss", Title: "KILPAUK"}

	c.Seed(ref, HeaderOnlySnapshot())
	before, _ := c.Get(ref)

	clk.Advance(50 * time.Second)
	c.RecordAppend(ref, []string{"B1", " B2", ""}, 2, 8)

	after, fresh := c.Get(ref)
	if !fresh {
		t.Error("RecordAppend should reset freshness")
	}
	if !after.Has("B1") || !after.Has("B2") || len(after.Keys) != 2 {
		t.Errorf("keys = %v", after.Keys)
	}
	if after.MaxSerial != 2 || after.LastRow != 8 || after.HeaderOnly || after.StartSerial() != 3 {
		t.Errorf("snapshot = %+v", after)
	}
	if len(before.Keys) != 0 {
		t.Error("RecordAppend mutated a snapshot that was already handed out")
	}

	clk.Advance(59 * time.Second)
	if _, fresh := c.Get(ref); !fresh {
		t.Error("entry should still be fresh 59s after append")
	}
}

func TestCacheIsPerSpreadsheet(t *testing.T) {
	c := New(time.Minute, clock.NewFake(time.Now()))
	c.RecordAppend(Ref{SpreadsheetID: "success", Title: "KILPAUK"}, []string{"B1"}, 1, 5)

	if snap, _ := c.Get(Ref{SpreadsheetID: "failure", Title: "KILPAUK"}); snap.Has("B1") {
		t.Error("state leaked across spreadsheets")
	}
	c.Invalidate(Ref{SpreadsheetID: "success", Title: "Kilpauk"})
	if c.Len() != 0 {
		t.Errorf("Len() = %d after Invalidate, want 0", c.Len())
	}
}
