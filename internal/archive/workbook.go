package archive

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/dvloznov/branch-sheets-sync/internal/reconcile"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet = "Summary"
	DetailSheet  = "Detailed Data"

	grandTotalLabel = "GRAND TOTAL"
	noDataLabel     = "No Data Available"
	maxColumnWidth  = 30
)

// SummaryHeader heads the Summary sheet.
var SummaryHeader = []interface{}{
	"Branch Name", "Total Bill Amount", "Total Discount Amount",
	"Total Tax Amount", "Net Amount", "Record Count",
}

// DetailHeader heads the Detailed Data sheet: the worksheet columns without
// the serial number.
func DetailHeader() []interface{} {
	out := make([]interface{}, 0, len(reconcile.Header)-1)
	for _, h := range reconcile.Header[1:] {
		out = append(out, h)
	}
	return out
}

// SummaryRow is one line of the Summary sheet.
type SummaryRow struct {
	Branch string
	Totals records.Totals
	Count  int
}

func (r SummaryRow) cells() []interface{} {
	return []interface{}{
		r.Branch,
		round(r.Totals.BillAmount),
		round(r.Totals.DiscountAmount),
		round(r.Totals.TaxAmount),
		round(r.Totals.NetAmount),
		r.Count,
	}
}

// Summarize groups recs by branch, sorted by branch name, and appends the
// grand total computed over the rounded branch totals. An empty input
// yields the single "No Data Available" row.
func Summarize(recs []records.Record) []SummaryRow {
	if len(recs) == 0 {
		return []SummaryRow{{Branch: noDataLabel}}
	}

	byBranch := make(map[string]*SummaryRow)
	for _, r := range recs {
		row, ok := byBranch[r.BranchName]
		if !ok {
			row = &SummaryRow{Branch: r.BranchName}
			byBranch[r.BranchName] = row
		}
		row.Totals = row.Totals.Add(r)
		row.Count++
	}

	out := make([]SummaryRow, 0, len(byBranch)+1)
	for _, row := range byBranch {
		row.Totals = roundTotals(row.Totals)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })

	grand := SummaryRow{Branch: grandTotalLabel}
	for _, row := range out {
		grand.Totals = grand.Totals.Plus(row.Totals)
		grand.Count += row.Count
	}
	return append(out, grand)
}

// Workbook renders recs as a Summary sheet and, when recs is not empty, a
// Detailed Data sheet.
func Workbook(recs []records.Record) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("Workbook: %w", err)
	}

	rows := [][]interface{}{SummaryHeader}
	for _, s := range Summarize(recs) {
		rows = append(rows, s.cells())
	}
	if err := writeSheet(f, SummarySheet, rows); err != nil {
		return nil, fmt.Errorf("Workbook: %w", err)
	}

	if len(recs) == 0 {
		return f, nil
	}

	if _, err := f.NewSheet(DetailSheet); err != nil {
		return nil, fmt.Errorf("Workbook: %w", err)
	}
	rows = [][]interface{}{DetailHeader()}
	for _, r := range recs {
		rows = append(rows, reconcile.DataRow(0, r)[1:])
	}
	if err := writeSheet(f, DetailSheet, rows); err != nil {
		return nil, fmt.Errorf("Workbook: %w", err)
	}

	return f, nil
}

// writeSheet writes rows from A1 and sizes every column to its widest
// value plus two, capped at maxColumnWidth.
func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	var widths []int
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
		for j, v := range row {
			if j >= len(widths) {
				widths = append(widths, 0)
			}
			if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[j] {
				widths[j] = n
			}
		}
	}

	for j, w := range widths {
		col, err := excelize.ColumnNumberToName(j + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return fmt.Errorf("sizing %s column %s: %w", sheet, col, err)
		}
	}
	return nil
}

func roundTotals(t records.Totals) records.Totals {
	return records.Totals{
		BillAmount:     t.BillAmount.Round(2),
		DiscountAmount: t.DiscountAmount.Round(2),
		TaxAmount:      t.TaxAmount.Round(2),
		NetAmount:      t.NetAmount.Round(2),
	}
}

func round(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
