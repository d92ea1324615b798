package reconcile

import (
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/dvloznov/branch-sheets-sync/internal/sheetcache"
	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	"github.com/shopspring/decimal"
)

// AppendPlan is one contiguous write.
type AppendPlan struct {
	// StartRow is the 1-based row the block starts at.
	StartRow int

	// StartSerial and LastSerial bound the serial numbers assigned.
	StartSerial int
	LastSerial  int

	// Rows is the payload, every row sheets.Columns wide.
	Rows [][]interface{}

	// Keys are the non-empty normalized bill numbers being written.
	Keys []string

	Totals records.Totals

	// Records counts the data rows.
	Records int
}

// EndRow is the last row the block covers.
func (p AppendPlan) EndRow() int {
	return p.StartRow + len(p.Rows) - 1
}

// LastContentRow is the totals row, the last non-blank row written.
func (p AppendPlan) LastContentRow() int {
	return p.EndRow() - TrailingBlankRows
}

// Range is the A1 range of the block in worksheet title.
func (p AppendPlan) Range(title string) string {
	return sheets.A1Range(title, p.StartRow, len(p.Rows))
}

// Plan lays out the append of recs below the content described by snap:
// banner, header, one row per record, a blank row, the totals row and
// TrailingBlankRows blank rows. Serials continue from snap and follow the
// position within recs.
func Plan(snap sheetcache.Snapshot, recs []records.Record, stamp Stamp) AppendPlan {
	p := AppendPlan{
		StartRow:    snap.NextRow(),
		StartSerial: snap.StartSerial(),
		Records:     len(recs),
		Rows:        make([][]interface{}, 0, len(recs)+4+TrailingBlankRows),
	}
	p.LastSerial = p.StartSerial + len(recs) - 1

	p.Rows = append(p.Rows, BannerRow(stamp), HeaderRow())
	for i, r := range recs {
		p.Rows = append(p.Rows, DataRow(p.StartSerial+i, r))
		p.Totals = p.Totals.Add(r)
		if r.HasKey() {
			p.Keys = append(p.Keys, r.Key())
		}
	}
	p.Rows = append(p.Rows, BlankRow(), TotalsRow(p.Totals))
	for i := 0; i < TrailingBlankRows; i++ {
		p.Rows = append(p.Rows, BlankRow())
	}

	return p
}

// DataRow renders one record.
func DataRow(serial int, r records.Record) []interface{} {
	return []interface{}{
		serial,
		r.ID,
		r.Key(),
		r.BranchName,
		r.FinancialYear,
		r.BillDateString(),
		amount(r.BillAmount),
		amount(r.DiscountAmount),
		amount(r.TaxAmount),
		amount(r.NetAmount),
		r.PaidAt,
		r.BillStatus,
		r.CreatedBy,
		r.CreatedOn,
		r.OrderID,
		r.TrackingID,
		r.BankRefNo,
		r.OrderStatus,
		r.PaymentMode,
		r.CardName,
	}
}

// TotalsRow carries the TOTAL label in the bill number column and the four
// sums in the amount columns.
func TotalsRow(t records.Totals) []interface{} {
	return padRow([]interface{}{
		"", "", "TOTAL", "", "", "",
		amount(t.BillAmount),
		amount(t.DiscountAmount),
		amount(t.TaxAmount),
		amount(t.NetAmount),
	})
}

func amount(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}
