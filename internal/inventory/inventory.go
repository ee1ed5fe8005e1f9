// Package inventory turns a comment sheet into an ordered dispenser of
// unused comment texts. A campaign opens its inventory once at startup,
// takes comments from it as the runner builds batches, and commits the
// consumption back to the sheet after each successful round of orders.
package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/soundlift/promo-monitor/internal/sheets"
)

// Store is the sheet access an inventory needs.
type Store interface {
	ReadRows(ctx context.Context, ref string) ([]sheets.Row, error)
	MarkUsed(ctx context.Context, ref string, through int) error
}

// Inventory dispenses the unused comments of one sheet, in sheet order,
// with exact duplicate texts dropped (first occurrence wins).
type Inventory struct {
	store Store
	ref   string

	mu           sync.Mutex
	opened       bool
	pending      []entry
	lastTakenRow int // highest 1-based data row dispensed so far
	committedRow int // highest data row already confirmed on the sheet
}

type entry struct {
	text string
	row  int // 1-based data row position (sheet row minus the header)
}

// New creates an inventory over the given sheet reference. Call Open
// before taking comments.
func New(store Store, ref string) *Inventory {
	return &Inventory{store: store, ref: ref}
}

// Ref returns the sheet reference this inventory reads from.
func (inv *Inventory) Ref() string {
	return inv.ref
}

// Open loads the sheet and builds the pending queue. Rows already marked
// used are skipped but still count toward row positions, so a later commit
// addresses the right range. Opening twice reloads from the sheet.
func (inv *Inventory) Open(ctx context.Context) error {
	rows, err := inv.store.ReadRows(ctx, inv.ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSheetUnavailable, err)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	seen := make(map[string]struct{}, len(rows))
	pending := make([]entry, 0, len(rows))
	committed := 0
	for i, row := range rows {
		pos := i + 1
		if row.Used {
			if pos > committed {
				committed = pos
			}
			seen[row.Text] = struct{}{}
			continue
		}
		if row.Text == "" {
			continue
		}
		if _, dup := seen[row.Text]; dup {
			continue
		}
		seen[row.Text] = struct{}{}
		pending = append(pending, entry{text: row.Text, row: pos})
	}

	inv.opened = true
	inv.pending = pending
	inv.committedRow = committed
	inv.lastTakenRow = committed
	return nil
}

// Size returns how many comments remain available.
func (inv *Inventory) Size() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.pending)
}

// Take removes and returns up to n comments from the front of the queue.
// It returns fewer than n when the inventory is running dry, and nil when
// it is empty or n is not positive.
func (inv *Inventory) Take(n int) []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if n <= 0 || len(inv.pending) == 0 {
		return nil
	}
	if n > len(inv.pending) {
		n = len(inv.pending)
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = inv.pending[i].text
	}
	inv.lastTakenRow = inv.pending[n-1].row
	inv.pending = inv.pending[n:]
	return out
}

// CommitUsed records every dispensed comment as used on the sheet by
// marking all data rows up to the last taken one. Marking is a prefix
// write, so retrying after a failed commit re-marks the same range and
// never corrupts the sheet.
func (inv *Inventory) CommitUsed(ctx context.Context) error {
	inv.mu.Lock()
	through := inv.lastTakenRow
	already := inv.committedRow
	inv.mu.Unlock()

	if through <= already {
		return nil
	}
	if err := inv.store.MarkUsed(ctx, inv.ref, through); err != nil {
		return fmt.Errorf("%w: %v", ErrSheetUnavailable, err)
	}

	inv.mu.Lock()
	if through > inv.committedRow {
		inv.committedRow = through
	}
	inv.mu.Unlock()
	return nil
}
