// restock.go -- replenishes a book to its seeded level, paid for from the
// wallet. Runs as one serializable transaction; naturally idempotent
// because a delivered restock leaves nothing left to replenish, and the
// ledger debit is deduped on the job id.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// ErrInsufficientFunds signals the runner to retry the restock with backoff
// until the wallet can cover the order.
var ErrInsufficientFunds = errors.New("insufficient wallet funds for restock")

type restockPayload struct {
	BookID string `json:"bookId"`
	ISBN   string `json:"isbn"`
}

// NewRestockHandler builds the RESTOCK handler.
func NewRestockHandler(ps *store.PostgresStore, txTimeout time.Duration) HandlerFunc {
	return func(ctx context.Context, job *store.Job) error {
		var payload restockPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decoding restock payload: %w", err)
		}
		bookID, err := uuid.FromString(payload.BookID)
		if err != nil {
			return fmt.Errorf("restock payload book id: %w", err)
		}

		return ps.WithSerializableTx(ctx, txTimeout, func(ctx context.Context, tx pgx.Tx) error {
			book, err := store.GetBookByID(ctx, tx, bookID)
			if errors.Is(err, pgx.ErrNoRows) {
				// Book gone; nothing to replenish.
				return nil
			}
			if err != nil {
				return err
			}

			needed := book.SeededCopies - book.AvailableCopies
			if needed <= 0 {
				// Returns can push stock past the seeded level; either way
				// there is nothing to order.
				return nil
			}
			cost := int64(needed) * book.StockCents

			balance, err := store.WalletBalance(ctx, tx)
			if err != nil {
				return err
			}
			if balance < cost {
				return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, cost, balance)
			}

			dedupe := "RESTOCK:" + job.ID.String()
			related := "job:" + job.ID.String()
			if _, err := store.AppendMovement(ctx, tx, -cost, store.MovementRestockExpense,
				fmt.Sprintf("restock of %d copies of %q", needed, book.Title), &related, &dedupe); err != nil {
				return err
			}
			if err := store.AddBookCopies(ctx, tx, book.ID, needed); err != nil {
				return err
			}

			meta, _ := json.Marshal(map[string]any{
				"copiesAdded":       needed,
				"totalCostCents":    cost,
				"previousAvailable": book.AvailableCopies,
				"newAvailable":      book.AvailableCopies + needed,
			})
			eventDedupe := "RESTOCK_DELIVERED:" + job.ID.String()
			_, err = store.AppendEvent(ctx, tx, store.EventRestockDelivered, store.EventRefs{
				BookID: &book.ID, JobID: &job.ID,
			}, meta, &eventDedupe)
			return err
		})
	}
}
