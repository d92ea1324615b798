// Package records defines the order/payment record read from an upload and
// groups records into the (status, branch) partitions the sync and archive
// paths work on.
package records

import (
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Status is one of the fixed order statuses. Each status has its own remote
// spreadsheet.
type Status string

const (
	StatusSuccess      Status = "Success"
	StatusFailure      Status = "Failure"
	StatusInitiated    Status = "Initiated"
	StatusAwaited      Status = "Awaited"
	StatusTimeout      Status = "Timeout"
	StatusUnsuccessful Status = "Unsuccessful"
	StatusAborted      Status = "Aborted"
)

// Statuses lists every status in processing order.
var Statuses = []Status{
	StatusSuccess,
	StatusFailure,
	StatusInitiated,
	StatusAwaited,
	StatusTimeout,
	StatusUnsuccessful,
	StatusAborted,
}

// ParseStatus matches s against the fixed vocabulary. Matching is exact after
// trimming surrounding whitespace.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Record is one row of the uploaded export.
type Record struct {
	ID            string
	BillNo        string
	BranchName    string
	FinancialYear string

	// BillDate is the zero civil.Date when the upload had no usable date.
	BillDate civil.Date

	BillAmount     decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	NetAmount      decimal.Decimal

	PaidAt      string
	BillStatus  string
	CreatedBy   string
	CreatedOn   string
	OrderID     string
	TrackingID  string
	BankRefNo   string
	OrderStatus string
	PaymentMode string
	CardName    string
}

// Key returns the normalized bill number used for duplicate detection.
func (r Record) Key() string {
	return NormalizeBillNo(r.BillNo)
}

// HasKey reports whether the record takes part in duplicate detection.
// Records with an empty bill number are always appended.
func (r Record) HasKey() bool {
	return r.Key() != ""
}

// Status returns the record's parsed order status.
func (r Record) Status() (Status, bool) {
	return ParseStatus(r.OrderStatus)
}

// BillDateString renders the bill date as YYYY-MM-DD, or "" when unset.
func (r Record) BillDateString() string {
	if !r.BillDate.IsValid() {
		return ""
	}
	return r.BillDate.String()
}

// NormalizeBillNo trims surrounding whitespace. Comparison stays
// case-sensitive, so " b1 " and "B1" are different bills.
func NormalizeBillNo(s string) string {
	return strings.TrimSpace(s)
}

// MaxSheetTitleLen is the longest worksheet title the remote accepts.
const MaxSheetTitleLen = 31

var titleReplacer = strings.NewReplacer(
	`\`, "_",
	"/", "_",
	"*", "_",
	"?", "_",
	":", "_",
	"[", "_",
	"]", "_",
)

// SheetTitle converts a branch name into a worksheet title.
func SheetTitle(branch string) string {
	title := titleReplacer.Replace(strings.TrimSpace(branch))
	if utf8.RuneCountInString(title) <= MaxSheetTitleLen {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxSheetTitleLen])
}
