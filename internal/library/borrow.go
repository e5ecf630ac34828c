// borrow.go -- the borrow/return engine.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// BorrowResult is the outcome of a borrow or return. IsExisting marks the
// idempotent paths: the caller repeated an operation that already happened
// and got the original row back.
type BorrowResult struct {
	Borrow     *store.Borrow
	Book       *store.Book
	IsExisting bool
}

// reminderPayload is the stored payload of a REMINDER job.
type reminderPayload struct {
	BorrowID  string `json:"borrowId"`
	UserEmail string `json:"userEmail"`
}

// Borrow lends one copy of the book to the user. Idempotent per (user,
// book): repeating the call while the borrow is ACTIVE returns the existing
// row. Limits: at most MaxActiveBorrows ACTIVE borrows per user.
func (s *Service) Borrow(ctx context.Context, userEmail, isbn string) (*BorrowResult, error) {
	var res *BorrowResult
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

		// Idempotent replay: the user already holds this book.
		existing, err := store.GetActiveBorrow(ctx, tx, user.ID, book.ID)
		if err == nil {
			res = &BorrowResult{Borrow: existing, Book: book, IsExisting: true}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking active borrow: %w", err)
		}

		active, err := store.CountActiveBorrows(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if active >= MaxActiveBorrows {
			return ErrBorrowLimitExceeded
		}

		remaining, took, err := store.DecrementBookCopies(ctx, tx, isbn)
		if err != nil {
			return err
		}
		if !took {
			return ErrNoCopiesAvailable
		}

		now := s.now().UTC()
		borrow, err := store.InsertBorrow(ctx, tx, user.ID, book.ID, now, now.Add(BorrowPeriod))
		if err != nil {
			return err
		}

		dedupe := "BORROW:" + borrow.ID.String()
		related := "borrow:" + borrow.ID.String()
		if _, err := store.AppendMovement(ctx, tx, book.BorrowCents, store.MovementBorrowIncome,
			fmt.Sprintf("borrow income for %q", book.Title), &related, &dedupe); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{"isbn": book.ISBN, "userEmail": userEmail})
		if _, err := store.AppendEvent(ctx, tx, store.EventBorrow, store.EventRefs{
			UserID: &user.ID, BookID: &book.ID, BorrowID: &borrow.ID,
		}, meta, &dedupe); err != nil {
			return err
		}

		payload, _ := json.Marshal(reminderPayload{BorrowID: borrow.ID.String(), UserEmail: userEmail})
		if _, _, err := store.InsertJob(ctx, tx, store.NewJob{
			Type:        store.JobReminder,
			ActiveKey:   store.ReminderActiveKey(borrow.ID),
			RunAt:       borrow.DueAt,
			Payload:     payload,
			MaxAttempts: s.jobMaxAttempts,
			BookID:      &book.ID,
			BorrowID:    &borrow.ID,
		}); err != nil {
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

		res = &BorrowResult{Borrow: borrow, Book: book}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Return gives one copy back. Idempotent: returning a book that was already
// returned yields the most recent RETURNED row with IsExisting set; no
// inventory or job state changes on the replay.
func (s *Service) Return(ctx context.Context, userEmail, isbn string) (*BorrowResult, error) {
	var res *BorrowResult
	err := s.store.WithSerializableTx(ctx, s.txTimeout, func(ctx context.Context, tx pgx.Tx) error {
		if err := store.AcquireUserLock(ctx, tx, userEmail); err != nil {
			return fmt.Errorf("acquiring user lock: %w", err)
		}
		// No upsert here: a user the system has never seen cannot have a borrow.
		user, err := store.GetUserByEmail(ctx, tx, userEmail)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBorrowNotFound
		}
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}
		book, err := store.GetBookByISBN(ctx, tx, isbn)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("loading book: %w", err)
		}

		active, err := store.GetActiveBorrow(ctx, tx, user.ID, book.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			// Double-return replay: surface the terminal row if one exists.
			returned, err := store.GetLatestReturnedBorrow(ctx, tx, user.ID, book.ID)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBorrowNotFound
			}
			if err != nil {
				return fmt.Errorf("checking returned borrow: %w", err)
			}
			res = &BorrowResult{Borrow: returned, Book: book, IsExisting: true}
			return nil
		}
		if err != nil {
			return fmt.Errorf("checking active borrow: %w", err)
		}

		borrow, err := store.MarkBorrowReturned(ctx, tx, active.ID, s.now().UTC())
		if err != nil {
			return err
		}
		if err := store.IncrementBookCopies(ctx, tx, book.ID); err != nil {
			return err
		}
		if err := store.CancelReminderJob(ctx, tx, borrow.ID); err != nil {
			return err
		}

		dedupe := "RETURN:" + borrow.ID.String()
		meta, _ := json.Marshal(map[string]string{"isbn": book.ISBN, "userEmail": userEmail})
		if _, err := store.AppendEvent(ctx, tx, store.EventReturn, store.EventRefs{
			UserID: &user.ID, BookID: &book.ID, BorrowID: &borrow.ID,
		}, meta, &dedupe); err != nil {
			return err
		}

		res = &BorrowResult{Borrow: borrow, Book: book}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
