// purchase.go -- the buy/cancel engine.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// PurchaseResult is the outcome of a buy or cancel. IsExisting marks the
// idempotent cancel replay.
type PurchaseResult struct {
	Purchase   *store.Purchase
	Book       *store.Book
	IsExisting bool
}

// Buy sells one copy to the user at the book's current sell price.
// Limits: at most MaxActivePurchasesPerBook ACTIVE purchases of one book and
// MaxActivePurchases in total, both counted under the user's advisory lock.
// Transport-level duplicates are absorbed separately by the idempotency
// cache on X-Idempotency-Key.
func (s *Service) Buy(ctx context.Context, userEmail, isbn string) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := s.store.WithSerializableTx(ctx, s.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		if err := store.AcquireUserLock(ctx, tx, userEmail); err != nil {
			return fmt.Errorf("acquiring user lock: %w", err)
		}
		user, err := store.UpsertUserByEmail(ctx, tx, userEmail)
		if err != nil {
			return err
		}
		book, err := store.GetBookByISBN(ctx, tx, isbn)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("loading book: %w", err)
		}

		forBook, err := store.CountActivePurchasesForBook(ctx, tx, user.ID, book.ID)
		if err != nil {
			return err
		}
		if forBook >= MaxActivePurchasesPerBook {
			return ErrBookBuyLimitExceeded
		}
		total, err := store.CountActivePurchases(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if total >= MaxActivePurchases {
			return ErrTotalBuyLimitExceeded
		}

		remaining, took, err := store.DecrementBookCopies(ctx, tx, isbn)
		if err != nil {
			return err
		}
		if !took {
			return ErrNoCopiesAvailable
		}

		purchase, err := store.InsertPurchase(ctx, tx, user.ID, book.ID, book.SellCents, s.now().UTC())
		if err != nil {
			return err
		}

		dedupe := "BUY:" + purchase.ID.String()
		related := "purchase:" + purchase.ID.String()
		if _, err := store.AppendMovement(ctx, tx, book.SellCents, store.MovementBuyIncome,
			fmt.Sprintf("sale of %q", book.Title), &related, &dedupe); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"isbn": book.ISBN, "userEmail": userEmail})
		if _, err := store.AppendEvent(ctx, tx, store.EventBuy, store.EventRefs{
			UserID: &user.ID, BookID: &book.ID, PurchaseID: &purchase.ID,
		}, meta, &dedupe); err != nil {
			return err
		}

		if remaining == LowStockThreshold {
			if err := s.checkLowStock(ctx, tx, book, remaining); err != nil {
				return err
			}
		}
		if err := s.checkMilestone(ctx, tx); err != nil {
			return err
		}

		res = &PurchaseResult{Purchase: purchase, Book: book}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Cancel refunds a purchase made less than CancelWindow ago. Idempotent:
// canceling an already-canceled purchase returns the terminal row with
// IsExisting set and appends nothing.
func (s *Service) Cancel(ctx context.Context, userEmail string, purchaseID uuid.UUID) (*PurchaseResult, error) {
	var res *PurchaseResult
	err := s.store.WithSerializableTx(ctx, s.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		if err := store.AcquireUserLock(ctx, tx, userEmail); err != nil {
			return fmt.Errorf("acquiring user lock: %w", err)
		}
		user, err := store.GetUserByEmail(ctx, tx, userEmail)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}

		// Row lock keeps parallel cancels of the same purchase strictly ordered.
		purchase, err := store.GetPurchaseForUpdate(ctx, tx, purchaseID, user.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPurchaseNotFound
		}
		if err != nil {
			return fmt.Errorf("locking purchase: %w", err)
		}
		book, err := store.GetBookByID(ctx, tx, purchase.BookID)
		if err != nil {
			return fmt.Errorf("loading book: %w", err)
		}

		if purchase.Status == store.PurchaseCanceled {
			res = &PurchaseResult{Purchase: purchase, Book: book, IsExisting: true}
			return nil
		}

		now := s.now().UTC()
		if now.Sub(purchase.PurchasedAt) > CancelWindow {
			return ErrCancellationWindowExpired
		}

		canceled, err := store.MarkPurchaseCanceled(ctx, tx, purchase.ID, now)
		if err != nil {
			return err
		}

		dedupe := "CANCEL:" + purchase.ID.String()
		related := "purchase:" + purchase.ID.String()
		if _, err := store.AppendMovement(ctx, tx, -purchase.PriceCents, store.MovementCancelRefund,
			fmt.Sprintf("refund for canceled purchase of %q", book.Title), &related, &dedupe); err != nil {
			return err
		}

		if err := store.IncrementBookCopies(ctx, tx, book.ID); err != nil {
			return err
		}

		eventDedupe := "CANCEL_BUY:" + purchase.ID.String()
		meta, _ := json.Marshal(map[string]string{"isbn": book.ISBN, "userEmail": userEmail})
		if _, err := store.AppendEvent(ctx, tx, store.EventCancelBuy, store.EventRefs{
			UserID: &user.ID, BookID: &book.ID, PurchaseID: &purchase.ID,
		}, meta, &eventDedupe); err != nil {
			return err
		}

		res = &PurchaseResult{Purchase: canceled, Book: book}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
