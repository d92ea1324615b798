// Package uploads stages parsed uploads between the upload request and the
// sync or archive request that consumes them.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
	"github.com/google/uuid"
)

// PreviewSize is the number of records returned as an upload preview.
const PreviewSize = 10

// ErrNotFound is returned for unknown or purged upload ids.
var ErrNotFound = errors.New("upload not found")

// Upload is one parsed file.
type Upload struct {
	ID        string
	Filename  string
	Columns   []string
	Records   []records.Record
	CreatedAt time.Time
}

// Preview returns the first n records keyed by column name.
func (u *Upload) Preview(n int) []map[string]interface{} {
	if n > len(u.Records) {
		n = len(u.Records)
	}
	out := make([]map[string]interface{}, 0, n)
	for _, r := range u.Records[:n] {
		out = append(out, previewRow(r))
	}
	return out
}

func previewRow(r records.Record) map[string]interface{} {
	return map[string]interface{}{
		records.ColID:             r.ID,
		records.ColBillNo:         r.BillNo,
		records.ColBranchName:     r.BranchName,
		records.ColFinancialYear:  r.FinancialYear,
		records.ColBillDate:       r.BillDateString(),
		records.ColBillAmount:     r.BillAmount.InexactFloat64(),
		records.ColDiscountAmount: r.DiscountAmount.InexactFloat64(),
		records.ColTaxAmount:      r.TaxAmount.InexactFloat64(),
		records.ColNetAmount:      r.NetAmount.InexactFloat64(),
		records.ColPaidAt:         r.PaidAt,
		records.ColBillStatus:     r.BillStatus,
		records.ColCreatedBy:      r.CreatedBy,
		records.ColCreatedOn:      r.CreatedOn,
		records.ColOrderID:        r.OrderID,
		records.ColTrackingID:     r.TrackingID,
		records.ColBankRefNo:      r.BankRefNo,
		records.ColOrderStatus:    r.OrderStatus,
		records.ColPaymentMode:    r.PaymentMode,
		records.ColCardName:       r.CardName,
	}
}

// Store keeps uploads in memory. It is safe for concurrent use.
// Stored uploads are never modified; callers must not mutate the records
// they get back.
type Store struct {
	mu      sync.RWMutex
	clock   clock.Clock
	uploads map[string]*Upload
	latest  string
}

// NewStore creates an empty Store.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:   clk,
		uploads: make(map[string]*Upload),
	}
}

// Put stages a parsed table and returns the new upload.
func (s *Store) Put(filename string, table *records.Table) *Upload {
	u := &Upload{
		ID:        uuid.NewString(),
		Filename:  filename,
		Columns:   append([]string(nil), table.Columns...),
		Records:   table.Records,
		CreatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.uploads[u.ID] = u
	s.latest = u.ID
	s.mu.Unlock()

	return u
}

// Get returns the upload with id.
func (s *Store) Get(id string) (*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return u, nil
}

// Latest returns the most recent upload. Requests without an upload id use
// it.
func (s *Store) Latest() (*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[s.latest]
	if !ok {
		return nil, fmt.Errorf("latest upload: %w", ErrNotFound)
	}
	return u, nil
}

// Resolve returns the upload with id, or the latest upload when id is empty.
func (s *Store) Resolve(id string) (*Upload, error) {
	if id == "" {
		return s.Latest()
	}
	return s.Get(id)
}

// Purge drops uploads older than maxAge.
func (s *Store) Purge(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)

	s.mu.Lock()
	removed := 0
	for id, u := range s.uploads {
		if u.CreatedAt.Before(cutoff) {
			delete(s.uploads, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		log := logger.FromContext(ctx)
		log.Info().Int("removed", removed).Msg("Purged staged uploads")
	}
	return removed
}

// Len returns the number of staged uploads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}
