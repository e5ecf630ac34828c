// borrows.go -- borrow rows. The active_key column ("{user_id}:{book_id}"
// while ACTIVE, NULL after return) plus its unique index is what enforces
// "at most one ACTIVE borrow per (user, book)".
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const borrowColumns = `id, user_id, book_id, status, borrowed_at, due_at,
	returned_at, active_key`

func scanBorrow(row pgx.Row) (*Borrow, error) {
	var b Borrow
	err := row.Scan(&b.ID, &b.UserID, &b.BookID, &b.Status, &b.BorrowedAt,
		&b.DueAt, &b.ReturnedAt, &b.ActiveKey)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// BorrowActiveKey builds the logical slot id for an active borrow.
func BorrowActiveKey(userID, bookID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", userID, bookID)
}

// GetActiveBorrow fetches the one ACTIVE borrow for (user, book), if any.
// Returns pgx.ErrNoRows if absent.
func GetActiveBorrow(ctx context.Context, q Querier, userID, bookID uuid.UUID) (*Borrow, error) {
	return scanBorrow(q.QueryRow(ctx,
		"SELECT "+borrowColumns+" FROM borrows WHERE active_key = $1",
		BorrowActiveKey(userID, bookID)))
}

// GetLatestReturnedBorrow fetches the most recently returned borrow for
// (user, book), used for the idempotent double-return path.
func GetLatestReturnedBorrow(ctx context.Context, q Querier, userID, bookID uuid.UUID) (*Borrow, error) {
	return scanBorrow(q.QueryRow(ctx, `
		SELECT `+borrowColumns+` FROM borrows
		WHERE user_id = $1 AND book_id = $2 AND status = $3
		ORDER BY returned_at DESC LIMIT 1`,
		userID, bookID, BorrowReturned))
}

// GetBorrowByID fetches a borrow by primary key. Returns pgx.ErrNoRows if absent.
func GetBorrowByID(ctx context.Context, q Querier, id uuid.UUID) (*Borrow, error) {
	return scanBorrow(q.QueryRow(ctx,
		"SELECT "+borrowColumns+" FROM borrows WHERE id = $1", id))
}

// CountActiveBorrows counts the user's ACTIVE borrows for the ≤3 limit check.
func CountActiveBorrows(ctx context.Context, q Querier, userID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		"SELECT COUNT(*) FROM borrows WHERE user_id = $1 AND status = $2",
		userID, BorrowActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active borrows: %w", err)
	}
	return n, nil
}

// InsertBorrow creates an ACTIVE borrow with its active_key set.
func InsertBorrow(ctx context.Context, q Querier, userID, bookID uuid.UUID, borrowedAt, dueAt time.Time) (*Borrow, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating borrow id: %w", err)
	}
	b, err := scanBorrow(q.QueryRow(ctx, `
		INSERT INTO borrows (id, user_id, book_id, status, borrowed_at, due_at, active_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+borrowColumns,
		id, userID, bookID, BorrowActive, borrowedAt, dueAt,
		BorrowActiveKey(userID, bookID)))
	if err != nil {
		return nil, fmt.Errorf("inserting borrow: %w", err)
	}
	return b, nil
}

// MarkBorrowReturned flips the borrow to RETURNED and clears its active_key,
// releasing the (user, book) slot. Returns the updated row.
func MarkBorrowReturned(ctx context.Context, q Querier, id uuid.UUID, returnedAt time.Time) (*Borrow, error) {
	b, err := scanBorrow(q.QueryRow(ctx, `
		UPDATE borrows
		SET status = $2, returned_at = $3, active_key = NULL
		WHERE id = $1
		RETURNING `+borrowColumns,
		id, BorrowReturned, returnedAt))
	if err != nil {
		return nil, fmt.Errorf("marking borrow returned: %w", err)
	}
	return b, nil
}
