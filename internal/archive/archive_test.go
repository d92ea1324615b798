package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var buildTime = time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)

func rec(status records.Status, branch, billNo, bill, net string) records.Record {
	return records.Record{
		BillNo:         billNo,
		BranchName:     branch,
		OrderStatus:    string(status),
		BillAmount:     decimal.RequireFromString(bill),
		DiscountAmount: decimal.Zero,
		TaxAmount:      decimal.Zero,
		NetAmount:      decimal.RequireFromString(net),
	}
}

func sampleRecords() []records.Record {
	return []records.Record{
		rec(records.StatusSuccess, "KILPAUK", "B1", "100", "95"),
		rec(records.StatusSuccess, "ADYAR", "A1", "10.005", "10"),
		rec(records.StatusSuccess, "KILPAUK", "B2", "250", "225"),
		rec(records.StatusFailure, "KILPAUK", "F1", "40", "40"),
		rec("Refunded", "KILPAUK", "R1", "1", "1"),
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleRecords()[:3])

	var branches []string
	var counts []int
	for _, r := range got {
		branches = append(branches, r.Branch)
		counts = append(counts, r.Count)
	}
	if diff := cmp.Diff([]string{"ADYAR", "KILPAUK", "GRAND TOTAL"}, branches); diff != "" {
		t.Errorf("branches mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	if got := got[0].Totals.BillAmount.String(); got != "10.01" {
		t.Errorf("ADYAR bill amount = %s, want rounded 10.01", got)
	}
	if got := got[2].Totals.BillAmount.String(); got != "360.01" {
		t.Errorf("grand total bill amount = %s, want 360.01", got)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	got := Summarize(nil)
	if len(got) != 1 || got[0].Branch != "No Data Available" || got[0].Count != 0 {
		t.Errorf("Summarize(nil) = %+v", got)
	}
}

func TestWorkbookSheets(t *testing.T) {
	tests := []struct {
		name       string
		recs       []records.Record
		wantSheets []string
	}{
		{"with data", sampleRecords()[:3], []string{"Summary", "Detailed Data"}},
		{"empty", nil, []string{"Summary"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Workbook(tt.recs)
			if err != nil {
				t.Fatalf("Workbook() error = %v", err)
			}
			defer f.Close()

			if diff := cmp.Diff(tt.wantSheets, f.GetSheetList()); diff != "" {
				t.Errorf("sheets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWorkbookColumnWidths(t *testing.T) {
	recs := []records.Record{rec(records.StatusSuccess, "A VERY LONG BRANCH NAME THAT KEEPS GOING", "B1", "1", "1")}
	f, err := Workbook(recs)
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}
	defer f.Close()

	tests := []struct {
		col  string
		want float64
	}{
		{"A", 30},
		{"F", float64(len("Record Count") + 2)},
	}
	for _, tt := range tests {
		got, err := f.GetColWidth(SummarySheet, tt.col)
		if err != nil {
			t.Fatalf("GetColWidth(%s) error = %v", tt.col, err)
		}
		if got != tt.want {
			t.Errorf("column %s width = %v, want %v", tt.col, got, tt.want)
		}
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, clock.NewFake(buildTime))

	res, err := b.Build(context.Background(), records.Partition(sampleRecords()))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if res.Filename != "branch_data_20240315_103045.zip" {
		t.Errorf("Filename = %q", res.Filename)
	}
	if res.StatusCount != 2 || res.TotalRecords != 5 {
		t.Errorf("StatusCount = %d, TotalRecords = %d, want 2, 5", res.StatusCount, res.TotalRecords)
	}
	if diff := cmp.Diff(map[string]int{"Success": 3, "Failure": 1}, res.StatusSummary); diff != "" {
		t.Errorf("StatusSummary mismatch (-want +got):\n%s", diff)
	}

	zr, err := zip.OpenReader(res.Path)
	if err != nil {
		t.Fatalf("zip.OpenReader() error = %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	wantNames := []string{
		"Success/Success.xlsx",
		"Success/KILPAUK_Success.xlsx",
		"Success/ADYAR_Success.xlsx",
		"Failure/Failure.xlsx",
		"Failure/KILPAUK_Failure.xlsx",
	}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("zip entries mismatch (-want +got):\n%s", diff)
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("opening entry: %v", err)
	}
	defer rc.Close()
	wb, err := excelize.OpenReader(rc)
	if err != nil {
		t.Fatalf("excelize.OpenReader() error = %v", err)
	}
	defer wb.Close()

	rows, err := wb.GetRows(SummarySheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	want := [][]string{
		{"Branch Name", "Total Bill Amount", "Total Discount Amount", "Total Tax Amount", "Net Amount", "Record Count"},
		{"ADYAR", "10.01", "0", "0", "10", "1"},
		{"KILPAUK", "350", "0", "0", "320", "2"},
		{"GRAND TOTAL", "360.01", "0", "0", "330", "3"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Summary rows mismatch (-want +got):\n%s", diff)
	}

	detail, err := wb.GetRows(DetailSheet)
	if err != nil {
		t.Fatalf("GetRows(detail) error = %v", err)
	}
	if len(detail) != 4 || detail[0][1] != "Bill No" {
		t.Errorf("detail sheet = %v", detail)
	}
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(dir, clock.NewFake(buildTime)).Build(ctx, records.Partition(sampleRecords()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Build() error = %v, want context.Canceled", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("cancelled build left %d files", len(entries))
	}
}

func TestFileSafe(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"KILPAUK", "KILPAUK"},
		{"T/NAGAR", "T_NAGAR"},
		{"  ANNA:NAGAR  ", "ANNA_NAGAR"},
		{"..", "_"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := FileSafe(tt.in); got != tt.want {
			t.Errorf("FileSafe(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, clock.NewFake(buildTime))
	if err := os.WriteFile(filepath.Join(dir, "branch_data_1.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		wantErr error
	}{
		{"branch_data_1.zip", nil},
		{"missing.zip", ErrNotFound},
		{"../secret.zip", ErrInvalidName},
		{"notes.txt", ErrInvalidName},
		{"", ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := b.Open(tt.name)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && path != filepath.Join(dir, tt.name) {
				t.Errorf("Open() = %q", path)
			}
		})
	}
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir, clock.NewFake(buildTime))

	write := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		mtime := buildTime.Add(-age)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	write("old.zip", 2*time.Hour)
	write("new.zip", 10*time.Minute)
	write("old.txt", 2*time.Hour)

	removed, err := b.Purge(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	var left []string
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		left = append(left, e.Name())
	}
	if diff := cmp.Diff([]string{"new.zip", "old.txt"}, left); diff != "" {
		t.Errorf("remaining files mismatch (-want +got):\n%s", diff)
	}
}

func TestPurgeMissingDir(t *testing.T) {
	b := NewBuilder(filepath.Join(t.TempDir(), "absent"), nil)
	if n, err := b.Purge(context.Background(), time.Hour); err != nil || n != 0 {
		t.Errorf("Purge() = %d, %v, want 0, nil", n, err)
	}
}
