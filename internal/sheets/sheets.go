// Package sheets defines the remote spreadsheet operations the sync engine
// consumes. Implementations live in sheets/google (Sheets v4 API) and
// sheets/inmemory (tests and dry runs).
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Columns is the fixed width of every row this service writes (A..T).
const Columns = 20

// DefaultWorksheetRows is the row count of a newly created worksheet.
const DefaultWorksheetRows = 1000

var (
	// ErrAlreadyExists is returned when creating a worksheet whose title is
	// already taken.
	ErrAlreadyExists = errors.New("worksheet already exists")

	// ErrNotFound is returned for unknown spreadsheets or worksheets.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks authentication and availability failures. A sync
	// run aborts when it sees one.
	ErrUnavailable = errors.New("remote spreadsheet service unavailable")
)

// Worksheet is one tab of a spreadsheet.
type Worksheet struct {
	ID    int64
	Title string
	Rows  int
	Cols  int
}

// Client is the remote spreadsheet API.
type Client interface {
	// ListWorksheets returns every worksheet of a spreadsheet.
	ListWorksheets(ctx context.Context, spreadsheetID string) ([]Worksheet, error)

	// CreateWorksheet adds a worksheet with the given title and size.
	CreateWorksheet(ctx context.Context, spreadsheetID, title string, rows, cols int) (Worksheet, error)

	// ReadAll returns the formatted values of every populated row of a
	// worksheet. Trailing empty cells of a row may be omitted.
	ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error)

	// WriteRange overwrites a rectangular A1 range with values.
	WriteRange(ctx context.Context, spreadsheetID, a1Range string, values [][]interface{}) error
}

// ColumnLetter returns the A1 letter for a 1-based column index.
func ColumnLetter(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// QuoteTitle quotes a worksheet title for use in an A1 range.
func QuoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// A1Range addresses numRows full-width rows starting at startRow (1-based).
func A1Range(title string, startRow, numRows int) string {
	if numRows < 1 {
		numRows = 1
	}
	return fmt.Sprintf("%s!A%d:%s%d", QuoteTitle(title), startRow, ColumnLetter(Columns), startRow+numRows-1)
}

// ParseA1Range splits a range produced by A1Range into title, start row and
// end row.
func ParseA1Range(rng string) (title string, startRow, endRow int, err error) {
	bang := strings.LastIndex(rng, "!")
	if bang < 0 {
		return "", 0, 0, fmt.Errorf("ParseA1Range: no sheet in %q", rng)
	}
	title = rng[:bang]
	if strings.HasPrefix(title, "'") && strings.HasSuffix(title, "'") && len(title) >= 2 {
		title = strings.ReplaceAll(title[1:len(title)-1], "''", "'")
	}

	cells := strings.SplitN(rng[bang+1:], ":", 2)
	startRow, err = rowOf(cells[0])
	if err != nil {
		return "", 0, 0, fmt.Errorf("ParseA1Range: %w", err)
	}
	endRow = startRow
	if len(cells) == 2 {
		if endRow, err = rowOf(cells[1]); err != nil {
			return "", 0, 0, fmt.Errorf("ParseA1Range: %w", err)
		}
	}
	return title, startRow, endRow, nil
}

func rowOf(cell string) (int, error) {
	i := strings.IndexFunc(cell, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return 0, fmt.Errorf("cell %q has no row", cell)
	}
	n := 0
	for _, r := range cell[i:] {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("cell %q has a malformed row", cell)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
