// Package store handles all database interactions.
//
// postgres.go -- pgxpool connection setup, transaction discipline, and the
// per-user advisory lock. Every state-changing engine operation runs inside
// one serializable transaction obtained from WithSerializableTx; row-level
// queries live in the per-entity files (books.go, borrows.go, ...) as
// package functions over a Querier, so the same query code runs against the
// pool or against an open transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx operations shared by *pgxpool.Pool and
// pgx.Tx. Query functions in this package take a Querier so the caller
// decides whether they run pooled or transactional.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrSerialization marks a serializable-isolation conflict (or deadlock).
// The HTTP layer maps it to 500; clients retry.
var ErrSerialization = errors.New("transaction serialization conflict")

// PostgresStore wraps a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and pings a connection pool.
// Call once at startup; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
// Call via defer in main after creating the store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for non-transactional work
// (admin listings, idempotency lookups, job claiming).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// WithSerializableTx runs fn inside a SERIALIZABLE transaction bounded by
// timeout. The transaction commits iff fn returns nil. Serialization
// conflicts surface wrapped in ErrSerialization so callers classify them
// with errors.Is instead of inspecting pg codes.
func (s *PostgresStore) WithSerializableTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	// Rollback is a no-op after a successful commit.
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		if isSerializationFailure(err) {
			return errors.Join(ErrSerialization, err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return errors.Join(ErrSerialization, err)
		}
		return err
	}
	return nil
}

// lockClassUser namespaces user locks in the two-argument
// pg_advisory_xact_lock(int4, int4) form, keeping the key space separate
// from any future lock class.
const lockClassUser = 1

// AcquireUserLock serializes all state-changing operations of one user.
// Transaction-scoped: released automatically at commit or rollback.
func AcquireUserLock(ctx context.Context, tx pgx.Tx, email string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)", lockClassUser, HashLockKey(email))
	return err
}

// HashLockKey folds a string to a non-negative int32 advisory lock key with
// the djb2-like recurrence h = h*31 + c. Collisions between distinct emails are
// possible and harmless: they only over-serialize.
func HashLockKey(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + int32(s[i])
	}
	// Mask rather than negate: -MinInt32 overflows back to itself.
	return h & 0x7FFFFFFF
}

// isSerializationFailure reports whether err is a Postgres serialization
// failure (40001) or deadlock (40P01).
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports whether err is a Postgres unique violation
// (23505). The dedupe-key insert paths absorb conflicts with ON CONFLICT DO
// NOTHING and do not call it.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
