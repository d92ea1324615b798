// Package reconcile decides which records are new to a worksheet and lays
// out the exact block of rows that appends them.
package reconcile

import (
	"fmt"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/sheetcache"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
)

// TrailingBlankRows follow the totals row of every appended section.
const TrailingBlankRows = 3

// Header is the column header written above every section.
var Header = [sheets.Columns]string{
	"S No", "Id", "Bill No", "Branch Name", "FinancialYearName",
	"Bill Date", "Total Bill Amount", "Total Discount Amount",
	"Total Tax Amount", "Net Amount", "Paid AT", "Bill Status",
	"Created By", "Created On", "order id", "tracking id",
	"bank ref no", "order status", "payment mode", "card name",
}

// Stamp is the date and time a run writes into its section banners.
type Stamp struct {
	Date string
	Time string
}

// NewStamp formats t as dd-mm-YYYY and HH:MM:SS.
func NewStamp(t time.Time) Stamp {
	return Stamp{Date: t.Format("02-01-2006"), Time: t.Format("15:04:05")}
}

func (s Stamp) String() string {
	return s.Date + " " + s.Time
}

// Filter returns the records whose bill number is not in snap, in input
// order. Records with an empty bill number always pass.
func Filter(snap sheetcache.Snapshot, recs []records.Record) []records.Record {
	out := make([]records.Record, 0, len(recs))
	for _, r := range recs {
		if r.HasKey() && snap.Has(r.Key()) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// BannerRow is the "Data Saved On" row.
func BannerRow(stamp Stamp) []interface{} {
	return padRow([]interface{}{fmt.Sprintf("Data Saved On: %s", stamp)})
}

// HeaderRow is the column header row.
func HeaderRow() []interface{} {
	row := make([]interface{}, sheets.Columns)
	for i, h := range Header {
		row[i] = h
	}
	return row
}

// HeaderRows are the two rows written to a newly created worksheet.
func HeaderRows(stamp Stamp) [][]interface{} {
	return [][]interface{}{BannerRow(stamp), HeaderRow()}
}

// BlankRow is a full-width empty row.
func BlankRow() []interface{} {
	return padRow(nil)
}

func padRow(cells []interface{}) []interface{} {
	row := make([]interface{}, sheets.Columns)
	copy(row, cells)
	for i := len(cells); i < sheets.Columns; i++ {
		row[i] = ""
	}
	return row
}
