// events.go -- the append-only audit log. Events reference users, books,
// borrows, purchases, and jobs but own none of them; all references are
// ON DELETE SET NULL. A set dedupe key makes an append safely retryable.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, type, user_id, book_id, borrow_id, purchase_id,
	job_id, metadata, dedupe_key, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Type, &e.UserID, &e.BookID, &e.BorrowID,
		&e.PurchaseID, &e.JobID, &e.Metadata, &e.DedupeKey, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EventRefs carries the optional entity references of an event.
type EventRefs struct {
	UserID     *uuid.UUID
	BookID     *uuid.UUID
	BorrowID   *uuid.UUID
	PurchaseID *uuid.UUID
	JobID      *uuid.UUID
}

// AppendEvent records an audit event. A duplicate dedupe key is absorbed and
// treated as success; the pre-existing row is returned in that case.
// metadata may be nil (stored as the empty object).
func AppendEvent(ctx context.Context, q Querier, eventType string, refs EventRefs, metadata []byte, dedupeKey *string) (*Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating event id: %w", err)
	}
	if metadata == nil {
		metadata = []byte(`{}`)
	}
	e, err := scanEvent(q.QueryRow(ctx, `
		INSERT INTO events (id, type, user_id, book_id, borrow_id, purchase_id, job_id, metadata, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+eventColumns,
		id, eventType, refs.UserID, refs.BookID, refs.BorrowID,
		refs.PurchaseID, refs.JobID, metadata, dedupeKey))
	if err == nil {
		return e, nil
	}
	if errors.Is(err, pgx.ErrNoRows) && dedupeKey != nil {
		existing, lookupErr := scanEvent(q.QueryRow(ctx,
			"SELECT "+eventColumns+" FROM events WHERE dedupe_key = $1", *dedupeKey))
		if lookupErr != nil {
			return nil, fmt.Errorf("reading deduplicated event %s: %w", *dedupeKey, lookupErr)
		}
		return existing, nil
	}
	return nil, fmt.Errorf("appending event: %w", err)
}

// ListEvents returns a page of events newest-first, optionally filtered by
// type, plus the total match count.
func ListEvents(ctx context.Context, q Querier, eventType string, limit, offset int) ([]*Event, int, error) {
	cond := "TRUE"
	args := []any{}
	if eventType != "" {
		args = append(args, eventType)
		cond = "type = $1"
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM events WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM events WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		eventColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
