// users.go -- user upsert and lookup. Users are auto-created on first
// interaction; email is the only identity.
package store

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
)

// UpsertUserByEmail returns the user for email, creating the row if needed.
// The DO UPDATE no-op makes RETURNING yield the row on both paths.
func UpsertUserByEmail(ctx context.Context, q Querier, email string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	var u User
	err = q.QueryRow(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at`,
		id, email).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user %s: %w", email, err)
	}
	return &u, nil
}

// GetUserByEmail fetches a user without creating one.
// Returns pgx.ErrNoRows if absent.
func GetUserByEmail(ctx context.Context, q Querier, email string) (*User, error) {
	var u User
	err := q.QueryRow(ctx,
		"SELECT id, email, created_at FROM users WHERE email = $1",
		email).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
