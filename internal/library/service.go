// Package library implements the transactional inventory engines: borrow,
// return, buy, cancel, the stock and milestone watchers, and the read paths
// the HTTP surface exposes. Each engine call is one serializable transaction;
// inside it the order is always advisory lock, precondition reads, inventory
// mutation, ledger append, event append, secondary effects.
package library

import (
	"context"
	"time"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// Business constants. These are invariants of the product, not tunables, so
// they live here rather than in config.
const (
	MaxActiveBorrows          = 3
	MaxActivePurchasesPerBook = 2
	MaxActivePurchases        = 10

	BorrowPeriod = 72 * time.Hour
	CancelWindow = 5 * time.Minute

	// MilestoneCents is the one-shot wallet threshold: strictly above $2000.
	MilestoneCents = 200_000

	// LowStockThreshold fires the restock trigger only on the transition to
	// exactly one remaining copy, not on every state at or below it.
	LowStockThreshold = 1

	// RestockDelay is how far in the future a scheduled restock runs.
	RestockDelay = time.Hour
)

// AdminEmail is the literal identity that unlocks the admin surface.
const AdminEmail = "admin@dummy-library.com"

// Service holds the engines' dependencies.
type Service struct {
	store          *store.PostgresStore
	txTimeout      time.Duration
	jobMaxAttempts int

	// now is swappable in tests; engines always stamp UTC.
	now func() time.Time
}

// NewService builds a Service. txTimeout bounds every engine transaction;
// jobMaxAttempts seeds the retry budget of scheduled jobs.
func NewService(ps *store.PostgresStore, txTimeout time.Duration, jobMaxAttempts int) *Service {
	return &Service{
		store:          ps,
		txTimeout:      txTimeout,
		jobMaxAttempts: jobMaxAttempts,
		now:            time.Now,
	}
}

// WithClock replaces the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Page is a validated pagination request.
type Page struct {
	Number int
	Size   int
}

// offset converts the 1-based page number to a row offset.
func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// SearchBooks is the paginated book read path.
func (s *Service) SearchBooks(ctx context.Context, filter store.BookFilter, page Page) ([]*store.Book, int, error) {
	return store.ListBooks(ctx, s.store.Pool(), filter, page.Size, page.offset())
}
