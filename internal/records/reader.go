package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Column names used in uploads.
const (
	ColID             = "Id"
	ColBillNo         = "Bill No"
	ColBranchName     = "Branch Name"
	ColFinancialYear  = "FinancialYearName"
	ColBillDate       = "Bill Date"
	ColBillAmount     = "Total Bill Amount"
	ColDiscountAmount = "Total Discount Amount"
	ColTaxAmount      = "Total Tax Amount"
	ColNetAmount      = "Net Amount"
	ColPaidAt         = "Paid AT"
	ColBillStatus     = "Bill Status"
	ColCreatedBy      = "Created By"
	ColCreatedOn      = "Created On"
	ColOrderID        = "order id"
	ColTrackingID     = "tracking id"
	ColBankRefNo      = "bank ref no"
	ColOrderStatus    = "order status"
	ColPaymentMode    = "payment mode"
	ColCardName       = "card name"
)

// RequiredColumns must all be present in an upload.
var RequiredColumns = []string{
	ColBranchName,
	ColOrderStatus,
	ColBillNo,
	ColBillAmount,
	ColDiscountAmount,
	ColTaxAmount,
	ColNetAmount,
}

// ErrMissingColumns is matched by errors.Is for any *MissingColumnsError.
var ErrMissingColumns = errors.New("missing required columns")

// MissingColumnsError lists the required columns an upload lacks, in
// RequiredColumns order.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing columns: %s", strings.Join(e.Missing, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumns
}

// Table is a parsed upload: the header as found in the file and the records.
type Table struct {
	Columns []string
	Records []Record
}

// ReadWorkbook parses the first sheet of an .xlsx upload.
func ReadWorkbook(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ReadWorkbook: opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("ReadWorkbook: workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("ReadWorkbook: reading sheet %q: %w", sheets[0], err)
	}

	return fromRows(rows)
}

// ReadCSV parses a comma separated upload with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: %w", err)
	}

	return fromRows(rows)
}

func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, &MissingColumnsError{Missing: append([]string(nil), RequiredColumns...)}
	}

	header := make([]string, len(rows[0]))
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		header[i] = h
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}

	t := &Table{Columns: header}
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		cell := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return cleanCell(row[i])
		}

		t.Records = append(t.Records, Record{
			ID:             cleanIdentifier(cell(ColID)),
			BillNo:         cleanIdentifier(cell(ColBillNo)),
			BranchName:     cell(ColBranchName),
			FinancialYear:  cell(ColFinancialYear),
			BillDate:       ParseBillDate(cell(ColBillDate)),
			BillAmount:     ParseAmount(cell(ColBillAmount)),
			DiscountAmount: ParseAmount(cell(ColDiscountAmount)),
			TaxAmount:      ParseAmount(cell(ColTaxAmount)),
			NetAmount:      ParseAmount(cell(ColNetAmount)),
			PaidAt:         cell(ColPaidAt),
			BillStatus:     cell(ColBillStatus),
			CreatedBy:      cell(ColCreatedBy),
			CreatedOn:      cell(ColCreatedOn),
			OrderID:        cleanIdentifier(cell(ColOrderID)),
			TrackingID:     cleanIdentifier(cell(ColTrackingID)),
			BankRefNo:      cleanIdentifier(cell(ColBankRefNo)),
			OrderStatus:    cell(ColOrderStatus),
			PaymentMode:    cell(ColPaymentMode),
			CardName:       cell(ColCardName),
		})
	}

	return t, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// cleanCell maps spreadsheet "not a number" spellings to empty.
func cleanCell(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nan", "inf", "-inf", "+inf", "infinity", "-infinity", "none", "null", "#n/a":
		return ""
	}
	return s
}

// cleanIdentifier renders integral floats such as "1234.0" as "1234".
func cleanIdentifier(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.Contains(trimmed, ".") {
		return s
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) >= 1e15 {
		return s
	}
	return strconv.FormatInt(int64(f), 10)
}

// ParseAmount parses a monetary cell. Anything unparsable becomes zero.
func ParseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(cleanCell(s), ",", ""))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
}

// ParseBillDate accepts the layouts in dateLayouts and Excel serial day
// numbers. Anything else yields the zero date.
func ParseBillDate(s string) civil.Date {
	s = strings.TrimSpace(cleanCell(s))
	if s == "" {
		return civil.Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t)
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return civil.DateOf(t)
		}
	}
	return civil.Date{}
}
