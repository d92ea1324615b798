package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/reconcile"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
)

// Outcome is what happened to one (status, branch) partition.
type Outcome string

const (
	OutcomeAppended Outcome = "appended"
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeSkipped  Outcome = "skipped"
)

// BranchResult records the handling of one partition.
type BranchResult struct {
	Status    records.Status `json:"status"`
	Branch    string         `json:"branch"`
	Worksheet string         `json:"worksheet"`
	Outcome   Outcome        `json:"outcome"`
	Rows      int            `json:"rows"`
	Created   bool           `json:"created,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Summary is the result of one run. Counts holds only rows that were
// durably written; skipped branches are listed in Branches but never
// counted.
type Summary struct {
	RunID       string                    `json:"run_id"`
	Success     bool                      `json:"success"`
	Message     string                    `json:"message"`
	RowsUpdated int                       `json:"rows_updated"`
	Counts      map[string]map[string]int `json:"summary"`
	Date        string                    `json:"date"`
	Time        string                    `json:"time"`
	Branches    []BranchResult            `json:"branches"`
	Dropped     int                       `json:"dropped_records"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`

	stamp reconcile.Stamp
}

func newSummary(runID string, started time.Time) *Summary {
	stamp := reconcile.NewStamp(started)
	return &Summary{
		RunID:     runID,
		Counts:    make(map[string]map[string]int),
		Date:      stamp.Date,
		Time:      stamp.Time,
		StartedAt: started,
		Branches:  []BranchResult{},
		stamp:     stamp,
	}
}

func (s *Summary) add(res BranchResult) {
	s.Branches = append(s.Branches, res)
	if res.Outcome != OutcomeAppended || res.Rows == 0 {
		return
	}
	st := string(res.Status)
	if s.Counts[st] == nil {
		s.Counts[st] = make(map[string]int)
	}
	s.Counts[st][res.Branch] += res.Rows
	s.RowsUpdated += res.Rows
}

func (s *Summary) finish(now time.Time, err error) {
	s.FinishedAt = now
	s.Success = err == nil
	if err != nil {
		s.Error = err.Error()
	}
	s.Message = s.render()
}

// Skipped returns the partitions that were not written.
func (s *Summary) Skipped() []BranchResult {
	var out []BranchResult
	for _, b := range s.Branches {
		if b.Outcome == OutcomeSkipped {
			out = append(out, b)
		}
	}
	return out
}

// Rows returns the appended row count of one partition.
func (s *Summary) Rows(st records.Status, branch string) int {
	return s.Counts[string(st)][branch]
}

func (s *Summary) render() string {
	var b strings.Builder
	if s.Success {
		b.WriteString("Google Sheets updated successfully!\n")
	} else {
		fmt.Fprintf(&b, "Google Sheets update stopped: %s\n", s.Error)
	}
	fmt.Fprintf(&b, "Total rows added: %d\n", s.RowsUpdated)
	fmt.Fprintf(&b, "Date: %s\n\n", s.stamp)

	for _, st := range records.Statuses {
		var lines []string
		for _, br := range s.Branches {
			if br.Status == st && br.Outcome == OutcomeAppended && br.Rows > 0 {
				lines = append(lines, fmt.Sprintf("  %s: %d rows\n", br.Branch, br.Rows))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", st)
		for _, l := range lines {
			b.WriteString(l)
		}
	}

	if skipped := s.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped (%d):\n", len(skipped))
		for _, br := range skipped {
			fmt.Fprintf(&b, "  %s / %s: %s\n", br.Status, br.Branch, br.Error)
		}
	}
	return b.String()
}

// RunRecorder stores finished run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, sum *Summary) error
}

// NopRecorder discards summaries.
type NopRecorder struct{}

// RecordRun implements RunRecorder.
func (NopRecorder) RecordRun(ctx context.Context, sum *Summary) error { return nil }
