// reminder.go -- sends exactly one due-date reminder per active borrow.
// The email's dedupe key is the whole idempotence story: a rescheduled or
// re-claimed reminder finds the recorded row and completes without sending
// twice.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/mail"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

type reminderPayload struct {
	BorrowID  string `json:"borrowId"`
	UserEmail string `json:"userEmail"`
}

// NewReminderHandler builds the REMINDER handler.
func NewReminderHandler(ps *store.PostgresStore, txTimeout time.Duration) HandlerFunc {
	return func(ctx context.Context, job *store.Job) error {
		var payload reminderPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decoding reminder payload: %w", err)
		}
		borrowID, err := uuid.FromString(payload.BorrowID)
		if err != nil {
			return fmt.Errorf("reminder payload borrow id: %w", err)
		}

		return ps.WithSerializableTx(ctx, txTimeout, func(ctx context.Context, tx pgx.Tx) error {
			borrow, err := store.GetBorrowByID(ctx, tx, borrowID)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			if borrow.ActiveKey == nil {
				// Returned before the reminder fired; nothing to send.
				return nil
			}

			dedupe := "REMINDER:" + borrow.ID.String()
			if _, err := store.GetEmailByDedupeKey(ctx, tx, dedupe); err == nil {
				return nil
			} else if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}

			book, err := store.GetBookByID(ctx, tx, borrow.BookID)
			if err != nil {
				return err
			}

			msg := mail.Reminder(payload.UserEmail, book.Title, book.ISBN, borrow.DueAt)
			if _, _, err := store.AppendEmail(ctx, tx, msg.Recipient, msg.Subject, msg.Body,
				store.EmailReminder, dedupe); err != nil {
				return err
			}

			meta, _ := json.Marshal(map[string]any{
				"userEmail": payload.UserEmail,
				"bookTitle": book.Title,
				"dueAt":     borrow.DueAt,
			})
			eventDedupe := "REMINDER_SENT:" + borrow.ID.String()
			_, err = store.AppendEvent(ctx, tx, store.EventReminderSent, store.EventRefs{
				UserID: &borrow.UserID, BookID: &book.ID, BorrowID: &borrow.ID, JobID: &job.ID,
			}, meta, &eventDedupe)
			return err
		})
	}
}
