// purchases.go -- purchase rows. Unlike borrows there is no active-key
// column; the per-book (≤2) and total (≤10) limits are counted from status
// under the user's advisory lock.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const purchaseColumns = `id, user_id, book_id, price_cents, status,
	purchased_at, canceled_at`

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.BookID, &p.PriceCents, &p.Status,
		&p.PurchasedAt, &p.CanceledAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountActivePurchasesForBook counts the user's ACTIVE purchases of one book.
func CountActivePurchasesForBook(ctx context.Context, q Querier, userID, bookID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM purchases
		WHERE user_id = $1 AND book_id = $2 AND status = $3`,
		userID, bookID, PurchaseActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting purchases for book: %w", err)
	}
	return n, nil
}

// CountActivePurchases counts all of the user's ACTIVE purchases.
func CountActivePurchases(ctx context.Context, q Querier, userID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		"SELECT COUNT(*) FROM purchases WHERE user_id = $1 AND status = $2",
		userID, PurchaseActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting purchases: %w", err)
	}
	return n, nil
}

// InsertPurchase creates an ACTIVE purchase at the book's current sell price.
func InsertPurchase(ctx context.Context, q Querier, userID, bookID uuid.UUID, priceCents int64, purchasedAt time.Time) (*Purchase, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating purchase id: %w", err)
	}
	p, err := scanPurchase(q.QueryRow(ctx, `
		INSERT INTO purchases (id, user_id, book_id, price_cents, status, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+purchaseColumns,
		id, userID, bookID, priceCents, PurchaseActive, purchasedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting purchase: %w", err)
	}
	return p, nil
}

// GetPurchaseForUpdate row-locks the purchase for (id, user) during cancel.
// FOR UPDATE keeps two parallel cancels of the same purchase strictly
// ordered even before serializable isolation kicks in.
// Returns pgx.ErrNoRows if no such purchase belongs to the user.
func GetPurchaseForUpdate(ctx context.Context, tx pgx.Tx, id, userID uuid.UUID) (*Purchase, error) {
	return scanPurchase(tx.QueryRow(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE id = $1 AND user_id = $2 FOR UPDATE",
		id, userID))
}

// MarkPurchaseCanceled flips the purchase to CANCELED. Returns the updated row.
func MarkPurchaseCanceled(ctx context.Context, q Querier, id uuid.UUID, canceledAt time.Time) (*Purchase, error) {
	p, err := scanPurchase(q.QueryRow(ctx, `
		UPDATE purchases SET status = $2, canceled_at = $3
		WHERE id = $1
		RETURNING `+purchaseColumns,
		id, PurchaseCanceled, canceledAt))
	if err != nil {
		return nil, fmt.Errorf("marking purchase canceled: %w", err)
	}
	return p, nil
}
