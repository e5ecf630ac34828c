// idempotency.go -- stored endpoint responses, keyed (key, user, endpoint).
// The same header value from a different user or endpoint is a distinct cell.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// GetIdempotencyKey fetches a stored response cell.
// Returns pgx.ErrNoRows if absent. Expiry is the caller's concern.
func GetIdempotencyKey(ctx context.Context, q Querier, key string, userID uuid.UUID, endpoint string) (*IdempotencyKey, error) {
	var rec IdempotencyKey
	err := q.QueryRow(ctx, `
		SELECT key, user_id, endpoint, response, status_code, expires_at, created_at
		FROM idempotency_keys
		WHERE key = $1 AND user_id = $2 AND endpoint = $3`,
		key, userID, endpoint).Scan(&rec.Key, &rec.UserID, &rec.Endpoint,
		&rec.Response, &rec.StatusCode, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutIdempotencyKey stores a response snapshot. A concurrent first-writer
// wins; losing the race is fine because both writers stored responses for
// the same logical request.
func PutIdempotencyKey(ctx context.Context, q Querier, rec *IdempotencyKey) error {
	_, err := q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, user_id, endpoint, response, status_code, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key, user_id, endpoint) DO NOTHING`,
		rec.Key, rec.UserID, rec.Endpoint, rec.Response, rec.StatusCode, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storing idempotency key: %w", err)
	}
	return nil
}

// DeleteIdempotencyKey drops one expired cell so the request can proceed fresh.
func DeleteIdempotencyKey(ctx context.Context, q Querier, key string, userID uuid.UUID, endpoint string) error {
	_, err := q.Exec(ctx,
		"DELETE FROM idempotency_keys WHERE key = $1 AND user_id = $2 AND endpoint = $3",
		key, userID, endpoint)
	if err != nil {
		return fmt.Errorf("deleting idempotency key: %w", err)
	}
	return nil
}

// DeleteExpiredIdempotencyKeys removes cells past their expiry. Called from
// the background cleanup loop in main.
func DeleteExpiredIdempotencyKeys(ctx context.Context, q Querier, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, "DELETE FROM idempotency_keys WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("cleaning up idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
