// stock.go -- the low-stock trigger. Runs inside the transaction that
// observed the transition to exactly one remaining copy, so the job row,
// the supply email, and both audit events commit or vanish together with
// the decrement that caused them.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/mail"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// restockPayload is the stored payload of a RESTOCK job.
type restockPayload struct {
	BookID string `json:"bookId"`
	ISBN   string `json:"isbn"`
}

// checkLowStock schedules a restock for book unless one is already live.
func (s *Service) checkLowStock(ctx context.Context, tx pgx.Tx, book *store.Book, remaining int) error {
	_, err := store.GetLiveRestockJob(ctx, tx, book.ID)
	if err == nil {
		// A restock is already scheduled; nothing to do.
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("checking live restock job: %w", err)
	}

	payload, _ := json.Marshal(restockPayload{BookID: book.ID.String(), ISBN: book.ISBN})
	job, inserted, err := store.InsertJob(ctx, tx, store.NewJob{
		Type:        store.JobRestock,
		ActiveKey:   store.RestockActiveKey(book.ID),
		RunAt:       s.now().UTC().Add(RestockDelay),
		Payload:     payload,
		MaxAttempts: s.jobMaxAttempts,
		BookID:      &book.ID,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Lost the slot to a concurrent scheduler; that job covers us.
		return nil
	}

	msg := mail.LowStock(book.Title, book.ISBN, remaining)
	emailDedupe := fmt.Sprintf("LOW_STOCK:%s:%s", book.ISBN, job.ID)
	if _, _, err := store.AppendEmail(ctx, tx, msg.Recipient, msg.Subject, msg.Body,
		store.EmailLowStock, emailDedupe); err != nil {
		return err
	}

	meta, _ := json.Marshal(map[string]any{"isbn": book.ISBN, "remaining": remaining})
	emailEventDedupe := "LOW_STOCK_EMAIL:" + job.ID.String()
	if _, err := store.AppendEvent(ctx, tx, store.EventLowStockEmail, store.EventRefs{
		BookID: &book.ID, JobID: &job.ID,
	}, meta, &emailEventDedupe); err != nil {
		return err
	}
	scheduledDedupe := "RESTOCK_SCHEDULED:" + job.ID.String()
	scheduledMeta, _ := json.Marshal(map[string]any{"isbn": book.ISBN, "runAt": job.RunAt})
	if _, err := store.AppendEvent(ctx, tx, store.EventRestockScheduled, store.EventRefs{
		BookID: &book.ID, JobID: &job.ID,
	}, scheduledMeta, &scheduledDedupe); err != nil {
		return err
	}
	return nil
}
