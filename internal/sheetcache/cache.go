package sheetcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/branch-sheets-sync/internal/clock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/dvloznov/branch-sheets-sync/internal/records"
)

// DefaultTTL is the freshness window of a cache entry.
const DefaultTTL = 5 * time.Minute

// Ref names a worksheet. Titles compare case-insensitively, matching how
// the remote treats them.
type Ref struct {
	SpreadsheetID string
	Title         string
}

func (r Ref) key() string {
	return r.SpreadsheetID + "\x00" + strings.ToLower(r.Title)
}

// Reader reads every populated row of a worksheet.
type Reader interface {
	ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context, spreadsheetID, title string) ([][]string, error)

// ReadAll calls f.
func (f ReaderFunc) ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error) {
	return f(ctx, spreadsheetID, title)
}

// Cache holds snapshots per worksheet. Snapshots handed out are never
// mutated afterwards; updates replace them.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]Snapshot
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[string]Snapshot),
	}
}

// Get returns the cached snapshot and whether it is still fresh. A missing
// entry returns an empty snapshot and false.
func (c *Cache) Get(ref Ref) (Snapshot, bool) {
	c.mu.RLock()
	snap, ok := c.entries[ref.key()]
	c.mu.RUnlock()

	if !ok {
		return Snapshot{Keys: map[string]struct{}{}}, false
	}
	return snap, c.clock.Now().Sub(snap.RefreshedAt) < c.ttl
}

// Refresh reads the worksheet and replaces the entry. On failure it returns
// an empty snapshot with the error and leaves the existing entry, including
// its timestamp, untouched so the next access retries.
func (c *Cache) Refresh(ctx context.Context, ref Ref, r Reader) (Snapshot, error) {
	values, err := r.ReadAll(ctx, ref.SpreadsheetID, ref.Title)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("worksheet", ref.Title).
			Msg("Failed to refresh worksheet state")
		return Snapshot{Keys: map[string]struct{}{}}, fmt.Errorf("Refresh: reading %q: %w", ref.Title, err)
	}

	snap := BuildSnapshot(values)
	snap.RefreshedAt = c.clock.Now()

	c.mu.Lock()
	c.entries[ref.key()] = snap
	c.mu.Unlock()

	return snap, nil
}

// Load returns the cached snapshot when fresh and refreshes it otherwise.
func (c *Cache) Load(ctx context.Context, ref Ref, r Reader) (Snapshot, error) {
	if snap, fresh := c.Get(ref); fresh {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("worksheet", ref.Title).
			Int("known_keys", len(snap.Keys)).
			Msg("Using cached worksheet state")
		return snap, nil
	}
	return c.Refresh(ctx, ref, r)
}

// Seed stores snap as freshly observed state, e.g. after creating a
// worksheet and writing its header.
func (c *Cache) Seed(ref Ref, snap Snapshot) {
	snap = snap.clone()
	snap.RefreshedAt = c.clock.Now()

	c.mu.Lock()
	c.entries[ref.key()] = snap
	c.mu.Unlock()
}

// RecordAppend folds a successful write into the entry without re-reading
// the worksheet: keys are added, the serial and last row advance and the
// freshness timestamp resets. keys must be exactly the bill numbers written.
func (c *Cache) RecordAppend(ref Ref, keys []string, lastSerial, lastRow int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[ref.key()]
	if !ok {
		prev = Snapshot{Keys: map[string]struct{}{}}
	}
	next := prev.clone()

	for _, k := range keys {
		if k = records.NormalizeBillNo(k); k != "" {
			next.Keys[k] = struct{}{}
		}
	}
	if lastSerial > next.MaxSerial {
		next.MaxSerial = lastSerial
	}
	if lastRow > next.LastRow {
		next.LastRow = lastRow
	}
	next.HeaderOnly = next.LastRow <= HeaderRows && next.MaxSerial == 0
	next.RefreshedAt = c.clock.Now()

	c.entries[ref.key()] = next
}

// Invalidate drops the entry for ref.
func (c *Cache) Invalidate(ref Ref) {
	c.mu.Lock()
	delete(c.entries, ref.key())
	c.mu.Unlock()
}

// Len returns the number of cached worksheets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
