// Package sheetcache keeps a per-worksheet view of remote state (known bill
// numbers, highest serial, last populated row) with a freshness window, so a
// sync run reads each worksheet at most once per window.
package sheetcache

import (
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/records"
)

const (
	// HeaderRows is the banner plus column header at the top of a worksheet.
	HeaderRows = 2

	billNoColumn = 2
	headerPrefix = "Bill No"
	totalsLabel  = "TOTAL"
)

// Snapshot is everything the planner needs about one worksheet, computed
// from a single read.
type Snapshot struct {
	// Keys holds the normalized bill numbers present in the worksheet.
	Keys map[string]struct{}

	// MaxSerial is the largest all-digit value in the first column.
	MaxSerial int

	// LastRow is the 1-based index of the last row with a non-blank cell,
	// 0 for an empty worksheet.
	LastRow int

	// HeaderOnly is true while the worksheet holds nothing below its
	// header section.
	HeaderOnly bool

	RefreshedAt time.Time
}

// Has reports whether key is a known bill number.
func (s Snapshot) Has(key string) bool {
	_, ok := s.Keys[key]
	return ok
}

// NextRow is the first row below all existing content.
func (s Snapshot) NextRow() int {
	return s.LastRow + 1
}

// StartSerial is the serial number the next appended record receives.
func (s Snapshot) StartSerial() int {
	if s.HeaderOnly {
		return 1
	}
	return s.MaxSerial + 1
}

// BuildSnapshot scans worksheet values once.
func BuildSnapshot(values [][]string) Snapshot {
	snap := Snapshot{Keys: make(map[string]struct{})}

	for i, row := range values {
		if !blankRow(row) {
			snap.LastRow = i + 1
		}
		if len(row) == 0 {
			continue
		}

		if serial, ok := parseSerial(row[0]); ok && serial > snap.MaxSerial {
			snap.MaxSerial = serial
		}

		if len(row) > billNoColumn {
			cell := row[billNoColumn]
			key := records.NormalizeBillNo(cell)
			switch {
			case key == "":
			case strings.HasPrefix(cell, headerPrefix):
			case key == totalsLabel && strings.TrimSpace(row[0]) == "":
			default:
				snap.Keys[key] = struct{}{}
			}
		}
	}

	snap.HeaderOnly = snap.LastRow <= HeaderRows
	return snap
}

// HeaderOnlySnapshot describes a freshly created worksheet whose banner and
// header were just written.
func HeaderOnlySnapshot() Snapshot {
	return Snapshot{
		Keys:       make(map[string]struct{}),
		LastRow:    HeaderRows,
		HeaderOnly: true,
	}
}

// parseSerial accepts only plain ASCII digit strings.
func parseSerial(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (s Snapshot) clone() Snapshot {
	keys := make(map[string]struct{}, len(s.Keys))
	for k := range s.Keys {
		keys[k] = struct{}{}
	}
	s.Keys = keys
	return s
}
