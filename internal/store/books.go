// books.go -- book queries: lookups, the conditional inventory decrement,
// increments, restock replenishment, and the paginated search read path.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const bookColumns = `id, isbn, title, author, genre, sell_cents, borrow_cents,
	stock_cents, available_copies, seeded_copies, created_at`

func scanBook(row pgx.Row) (*Book, error) {
	var b Book
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Genre,
		&b.SellCents, &b.BorrowCents, &b.StockCents,
		&b.AvailableCopies, &b.SeededCopies, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookByISBN fetches a book by its external identity.
// Returns pgx.ErrNoRows if absent.
func GetBookByISBN(ctx context.Context, q Querier, isbn string) (*Book, error) {
	return scanBook(q.QueryRow(ctx,
		"SELECT "+bookColumns+" FROM books WHERE isbn = $1", isbn))
}

// GetBookByID fetches a book by primary key. Returns pgx.ErrNoRows if absent.
func GetBookByID(ctx context.Context, q Querier, id uuid.UUID) (*Book, error) {
	return scanBook(q.QueryRow(ctx,
		"SELECT "+bookColumns+" FROM books WHERE id = $1", id))
}

// InsertBook inserts a book row. Returns false without error when a book
// with the same isbn already exists (seed idempotence).
func InsertBook(ctx context.Context, q Querier, b *Book) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO books (id, isbn, title, author, genre, sell_cents,
			borrow_cents, stock_cents, available_copies, seeded_copies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (isbn) DO NOTHING`,
		b.ID, b.ISBN, b.Title, b.Author, b.Genre, b.SellCents,
		b.BorrowCents, b.StockCents, b.AvailableCopies, b.SeededCopies)
	if err != nil {
		return false, fmt.Errorf("inserting book %s: %w", b.ISBN, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementBookCopies atomically takes one copy if any remain. Returns the
// remaining available_copies and true when a copy was taken; false means the
// book was out of stock (zero rows matched the guard).
func DecrementBookCopies(ctx context.Context, q Querier, isbn string) (int, bool, error) {
	var remaining int
	err := q.QueryRow(ctx, `
		UPDATE books SET available_copies = available_copies - 1
		WHERE isbn = $1 AND available_copies >= 1
		RETURNING available_copies`, isbn).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("decrementing copies of %s: %w", isbn, err)
	}
	return remaining, true, nil
}

// IncrementBookCopies puts one copy back (return, cancel). Unconditional:
// returns may push available_copies past seeded_copies.
func IncrementBookCopies(ctx context.Context, q Querier, bookID uuid.UUID) error {
	_, err := q.Exec(ctx,
		"UPDATE books SET available_copies = available_copies + 1 WHERE id = $1", bookID)
	if err != nil {
		return fmt.Errorf("incrementing copies of %s: %w", bookID, err)
	}
	return nil
}

// AddBookCopies adds n copies during restock delivery.
func AddBookCopies(ctx context.Context, q Querier, bookID uuid.UUID, n int) error {
	_, err := q.Exec(ctx,
		"UPDATE books SET available_copies = available_copies + $2 WHERE id = $1", bookID, n)
	if err != nil {
		return fmt.Errorf("adding %d copies to %s: %w", n, bookID, err)
	}
	return nil
}

// BookFilter narrows the book search read path. Empty fields match everything.
type BookFilter struct {
	Title  string
	Author string
	Genre  string
}

// ListBooks returns a page of books matching filter, ordered by title, plus
// the total match count for pagination.
func ListBooks(ctx context.Context, q Querier, filter BookFilter, limit, offset int) ([]*Book, int, error) {
	where := []string{"TRUE"}
	args := []any{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, "%"+val+"%")
		where = append(where, fmt.Sprintf("%s ILIKE $%d", col, len(args)))
	}
	add("title", filter.Title)
	add("author", filter.Author)
	add("genre", filter.Genre)
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM books WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting books: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM books WHERE %s ORDER BY title ASC LIMIT $%d OFFSET $%d",
		bookColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning book: %w", err)
		}
		books = append(books, b)
	}
	return books, total, rows.Err()
}
