// wallet.go -- the append-only ledger. The wallet row stores no balance:
// balance is always the sum of movement amounts, and dedupe keys make every
// credit/debit at-most-once across request retries, worker retries, and
// idempotency replays.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const movementColumns = `id, wallet_id, amount_cents, type, reason,
	related_entity, dedupe_key, created_at`

func scanMovement(row pgx.Row) (*WalletMovement, error) {
	var m WalletMovement
	err := row.Scan(&m.ID, &m.WalletID, &m.AmountCents, &m.Type, &m.Reason,
		&m.RelatedEntity, &m.DedupeKey, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetWallet fetches the singleton wallet row.
func GetWallet(ctx context.Context, q Querier) (*Wallet, error) {
	var w Wallet
	err := q.QueryRow(ctx,
		"SELECT id, milestone_reached, created_at FROM library_wallet WHERE id = $1",
		WalletID).Scan(&w.ID, &w.MilestoneReached, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching wallet: %w", err)
	}
	return &w, nil
}

// WalletBalance computes the derived balance over the current snapshot.
func WalletBalance(ctx context.Context, q Querier) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount_cents), 0) FROM wallet_movements WHERE wallet_id = $1",
		WalletID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("computing wallet balance: %w", err)
	}
	return balance, nil
}

// SetMilestoneReached flips the one-shot milestone flag. Monotonic: nothing
// ever sets it back to false.
func SetMilestoneReached(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx,
		"UPDATE library_wallet SET milestone_reached = TRUE WHERE id = $1", WalletID)
	if err != nil {
		return fmt.Errorf("setting milestone flag: %w", err)
	}
	return nil
}

// AppendMovement inserts a ledger movement. When the movement carries a
// dedupe key and an identical key already exists, the existing row is
// returned instead -- callers treat both outcomes as success. The conflict
// is absorbed with ON CONFLICT DO NOTHING rather than by catching 23505: a
// raised unique violation would poison the enclosing transaction.
func AppendMovement(ctx context.Context, q Querier, amountCents int64, movementType, reason string, relatedEntity, dedupeKey *string) (*WalletMovement, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating movement id: %w", err)
	}
	m, err := scanMovement(q.QueryRow(ctx, `
		INSERT INTO wallet_movements (id, wallet_id, amount_cents, type, reason, related_entity, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+movementColumns,
		id, WalletID, amountCents, movementType, reason, relatedEntity, dedupeKey))
	if err == nil {
		return m, nil
	}
	if errors.Is(err, pgx.ErrNoRows) && dedupeKey != nil {
		existing, lookupErr := getMovementByDedupeKey(ctx, q, *dedupeKey)
		if lookupErr != nil {
			return nil, fmt.Errorf("reading deduplicated movement %s: %w", *dedupeKey, lookupErr)
		}
		return existing, nil
	}
	return nil, fmt.Errorf("appending movement: %w", err)
}

func getMovementByDedupeKey(ctx context.Context, q Querier, dedupeKey string) (*WalletMovement, error) {
	return scanMovement(q.QueryRow(ctx,
		"SELECT "+movementColumns+" FROM wallet_movements WHERE dedupe_key = $1",
		dedupeKey))
}

// MovementFilter narrows the admin ledger listing. Direction is "credit"
// (amount > 0), "debit" (amount < 0), or empty for both. From/To bound
// created_at inclusively when non-zero.
type MovementFilter struct {
	Direction string
	From      time.Time
	To        time.Time
}

// ListMovements returns a page of movements newest-first plus the total
// match count.
func ListMovements(ctx context.Context, q Querier, filter MovementFilter, limit, offset int) ([]*WalletMovement, int, error) {
	cond := "wallet_id = $1"
	args := []any{WalletID}
	switch filter.Direction {
	case "credit":
		cond += " AND amount_cents > 0"
	case "debit":
		cond += " AND amount_cents < 0"
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		cond += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		cond += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM wallet_movements WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting movements: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM wallet_movements WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		movementColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing movements: %w", err)
	}
	defer rows.Close()

	var movements []*WalletMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}
