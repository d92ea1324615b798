package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	"github.com/google/go-cmp/cmp"
)

func TestRemoteCreateWriteRead(t *testing.T) {
	ctx := context.Background()
	r := New()

	ws, err := r.CreateWorksheet(ctx, "ss", "KILPAUK", 1000, 20)
	if err != nil {
		t.Fatalf("CreateWorksheet() error = %v", err)
	}
	if ws.Title != "KILPAUK" || ws.Rows != 1000 || ws.Cols != 20 {
		t.Errorf("worksheet = %+v", ws)
	}

	if _, err := r.CreateWorksheet(ctx, "ss", "kilpauk", 1000, 20); !errors.Is(err, sheets.ErrAlreadyExists) {
		t.Errorf("duplicate create error = %v, want ErrAlreadyExists", err)
	}

	err = r.WriteRange(ctx, "ss", sheets.A1Range("KILPAUK", 2, 3), [][]interface{}{
		{1, "B1", 100.0},
		{"", "", ""},
		{"", "TOTAL", 85.5},
	})
	if err != nil {
		t.Fatalf("WriteRange() error = %v", err)
	}

	got, err := r.ReadAll(ctx, "ss", "KILPAUK")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	want := [][]string{
		nil,
		{"1", "B1", "100"},
		{"", "", ""},
		{"", "TOTAL", "85.5"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}

	if r.Calls("create") != 2 || r.Calls("write") != 1 || r.Calls("read") != 1 {
		t.Errorf("calls = create %d write %d read %d", r.Calls("create"), r.Calls("write"), r.Calls("read"))
	}
}

func TestRemoteReadAllTrimsTrailingBlankRows(t *testing.T) {
	r := New()
	r.AddWorksheet("ss", "Adyar", [][]string{{"a"}, {"", ""}, {"b"}, {""}, {"  "}})

	got, err := r.ReadAll(context.Background(), "ss", "Adyar")
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d rows, want 3", len(got))
	}
}

func TestRemoteStrictAndHooks(t *testing.T) {
	ctx := context.Background()
	r := NewStrict("known")

	if _, err := r.ListWorksheets(ctx, "unknown"); !errors.Is(err, sheets.ErrNotFound) {
		t.Errorf("ListWorksheets(unknown) error = %v, want ErrNotFound", err)
	}

	boom := errors.New("boom")
	r.ListErr = func(string) error { return boom }
	if _, err := r.ListWorksheets(ctx, "known"); !errors.Is(err, boom) {
		t.Errorf("ListWorksheets() error = %v, want hook error", err)
	}

	if _, err := r.ReadAll(ctx, "known", "missing"); !errors.Is(err, sheets.ErrNotFound) {
		t.Errorf("ReadAll(missing) error = %v, want ErrNotFound", err)
	}
}
