// emails.go -- the simulated outbox. Every email row carries a mandatory
// dedupe key, which is what gives reminders, low-stock notices, and the
// milestone email their exactly-once behavior.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const emailColumns = `id, recipient, subject, body, type, dedupe_key, created_at`

func scanEmail(row pgx.Row) (*SimulatedEmail, error) {
	var e SimulatedEmail
	err := row.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.Type,
		&e.DedupeKey, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendEmail records a simulated email. Returns inserted=false when an
// email with the same dedupe key was already recorded; that duplicate is
// success for the caller.
func AppendEmail(ctx context.Context, q Querier, recipient, subject, body, emailType, dedupeKey string) (*SimulatedEmail, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generating email id: %w", err)
	}
	e, err := scanEmail(q.QueryRow(ctx, `
		INSERT INTO simulated_emails (id, recipient, subject, body, type, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+emailColumns,
		id, recipient, subject, body, emailType, dedupeKey))
	if err == nil {
		return e, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		existing, lookupErr := GetEmailByDedupeKey(ctx, q, dedupeKey)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("reading deduplicated email %s: %w", dedupeKey, lookupErr)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("appending email: %w", err)
}

// GetEmailByDedupeKey fetches an email by its dedupe key.
// Returns pgx.ErrNoRows if absent.
func GetEmailByDedupeKey(ctx context.Context, q Querier, dedupeKey string) (*SimulatedEmail, error) {
	return scanEmail(q.QueryRow(ctx,
		"SELECT "+emailColumns+" FROM simulated_emails WHERE dedupe_key = $1",
		dedupeKey))
}

// ListEmails returns a page of recorded emails newest-first plus the total count.
func ListEmails(ctx context.Context, q Querier, limit, offset int) ([]*SimulatedEmail, int, error) {
	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM simulated_emails").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting emails: %w", err)
	}

	rows, err := q.Query(ctx,
		"SELECT "+emailColumns+" FROM simulated_emails ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing emails: %w", err)
	}
	defer rows.Close()

	var emails []*SimulatedEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning email: %w", err)
		}
		emails = append(emails, e)
	}
	return emails, total, rows.Err()
}
