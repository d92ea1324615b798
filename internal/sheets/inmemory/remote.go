// Package inmemory is a sheets.Client backed by process memory. It serves the
// CLI dry-run mode and tests, and can inject failures per operation.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
)

type worksheet struct {
	meta  sheets.Worksheet
	cells [][]string
}

type spreadsheet struct {
	nextID int64
	tabs   []*worksheet
}

// Remote is an in-memory collection of spreadsheets. It is safe for
// concurrent use.
type Remote struct {
	mu     sync.Mutex
	books  map[string]*spreadsheet
	calls  map[string]int
	strict bool

	// Hooks run before an operation and can fail it. A nil hook is a no-op.
	ListErr   func(spreadsheetID string) error
	CreateErr func(spreadsheetID, title string) error
	ReadErr   func(spreadsheetID, title string) error
	WriteErr  func(spreadsheetID, a1Range string) error
}

// New returns an empty Remote. Spreadsheet ids are created on first use.
func New() *Remote {
	return &Remote{
		books: make(map[string]*spreadsheet),
		calls: make(map[string]int),
	}
}

// NewStrict returns a Remote that only knows the given spreadsheet ids and
// reports sheets.ErrNotFound for any other.
func NewStrict(spreadsheetIDs ...string) *Remote {
	r := New()
	r.strict = true
	for _, id := range spreadsheetIDs {
		r.books[id] = &spreadsheet{}
	}
	return r
}

func (r *Remote) book(id string) (*spreadsheet, error) {
	b, ok := r.books[id]
	if !ok {
		if r.strict {
			return nil, fmt.Errorf("spreadsheet %q: %w", id, sheets.ErrNotFound)
		}
		b = &spreadsheet{}
		r.books[id] = b
	}
	return b, nil
}

func (b *spreadsheet) find(title string) *worksheet {
	for _, ws := range b.tabs {
		if ws.meta.Title == title {
			return ws
		}
	}
	return nil
}

// Calls returns how many times op was invoked ("list", "create", "read",
// "write").
func (r *Remote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// AddWorksheet seeds a worksheet with cell values.
func (r *Remote) AddWorksheet(spreadsheetID, title string, cells [][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.book(spreadsheetID)
	if err != nil {
		b = &spreadsheet{}
		r.books[spreadsheetID] = b
	}
	ws := &worksheet{
		meta:  sheets.Worksheet{ID: b.nextID, Title: title, Rows: sheets.DefaultWorksheetRows, Cols: sheets.Columns},
		cells: copyCells(cells),
	}
	b.nextID++
	b.tabs = append(b.tabs, ws)
}

// Cells returns a copy of a worksheet's cells, or nil when it does not exist.
func (r *Remote) Cells(spreadsheetID, title string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[spreadsheetID]
	if !ok {
		return nil
	}
	ws := b.find(title)
	if ws == nil {
		return nil
	}
	return copyCells(ws.cells)
}

// Titles lists worksheet titles of a spreadsheet in creation order.
func (r *Remote) Titles(spreadsheetID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[spreadsheetID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(b.tabs))
	for _, ws := range b.tabs {
		out = append(out, ws.meta.Title)
	}
	return out
}

// ListWorksheets implements sheets.Client.
func (r *Remote) ListWorksheets(ctx context.Context, spreadsheetID string) ([]sheets.Worksheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["list"]++

	if r.ListErr != nil {
		if err := r.ListErr(spreadsheetID); err != nil {
			return nil, err
		}
	}
	b, err := r.book(spreadsheetID)
	if err != nil {
		return nil, err
	}
	out := make([]sheets.Worksheet, 0, len(b.tabs))
	for _, ws := range b.tabs {
		out = append(out, ws.meta)
	}
	return out, nil
}

// CreateWorksheet implements sheets.Client. Titles are unique ignoring case,
// like the real service.
func (r *Remote) CreateWorksheet(ctx context.Context, spreadsheetID, title string, rows, cols int) (sheets.Worksheet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["create"]++

	if r.CreateErr != nil {
		if err := r.CreateErr(spreadsheetID, title); err != nil {
			return sheets.Worksheet{}, err
		}
	}
	b, err := r.book(spreadsheetID)
	if err != nil {
		return sheets.Worksheet{}, err
	}
	for _, ws := range b.tabs {
		if strings.EqualFold(ws.meta.Title, title) {
			return sheets.Worksheet{}, fmt.Errorf("A sheet with the name %q already exists: %w", title, sheets.ErrAlreadyExists)
		}
	}

	ws := &worksheet{meta: sheets.Worksheet{ID: b.nextID, Title: title, Rows: rows, Cols: cols}}
	b.nextID++
	b.tabs = append(b.tabs, ws)
	return ws.meta, nil
}

// ReadAll implements sheets.Client. Trailing empty rows are omitted.
func (r *Remote) ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["read"]++

	if r.ReadErr != nil {
		if err := r.ReadErr(spreadsheetID, title); err != nil {
			return nil, err
		}
	}
	b, err := r.book(spreadsheetID)
	if err != nil {
		return nil, err
	}
	ws := b.find(title)
	if ws == nil {
		return nil, fmt.Errorf("worksheet %q: %w", title, sheets.ErrNotFound)
	}

	last := len(ws.cells)
	for last > 0 && blank(ws.cells[last-1]) {
		last--
	}
	return copyCells(ws.cells[:last]), nil
}

// WriteRange implements sheets.Client.
func (r *Remote) WriteRange(ctx context.Context, spreadsheetID, a1Range string, values [][]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["write"]++

	if r.WriteErr != nil {
		if err := r.WriteErr(spreadsheetID, a1Range); err != nil {
			return err
		}
	}

	title, startRow, endRow, err := sheets.ParseA1Range(a1Range)
	if err != nil {
		return err
	}
	if endRow-startRow+1 < len(values) {
		return fmt.Errorf("range %s holds %d rows, got %d", a1Range, endRow-startRow+1, len(values))
	}
	b, err := r.book(spreadsheetID)
	if err != nil {
		return err
	}
	ws := b.find(title)
	if ws == nil {
		return fmt.Errorf("worksheet %q: %w", title, sheets.ErrNotFound)
	}

	for len(ws.cells) < startRow-1+len(values) {
		ws.cells = append(ws.cells, nil)
	}
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = render(v)
		}
		ws.cells[startRow-1+i] = cells
	}
	return nil
}

// render mimics the service's formatted value for a written cell.
func render(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", x), "0"), ".")
	default:
		return fmt.Sprint(x)
	}
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func copyCells(in [][]string) [][]string {
	out := make([][]string, len(in))
	for i, row := range in {
		out[i] = append([]string(nil), row...)
	}
	return out
}

var _ sheets.Client = (*Remote)(nil)
