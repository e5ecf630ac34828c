// admin.go -- read paths behind the admin guard, plus the idempotency cell
// operations the transport middleware needs. All pool-level: none of these
// participate in engine transactions.
package library

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// WalletSummary is the admin wallet view: derived balance plus the
// milestone flag.
type WalletSummary struct {
	BalanceCents     int64
	MilestoneReached bool
}

// Wallet returns the current wallet summary.
func (s *Service) Wallet(ctx context.Context) (*WalletSummary, error) {
	wallet, err := store.GetWallet(ctx, s.store.Pool())
	if err != nil {
		return nil, err
	}
	balance, err := store.WalletBalance(ctx, s.store.Pool())
	if err != nil {
		return nil, err
	}
	return &WalletSummary{BalanceCents: balance, MilestoneReached: wallet.MilestoneReached}, nil
}

// Movements lists ledger movements newest-first.
func (s *Service) Movements(ctx context.Context, filter store.MovementFilter, page Page) ([]*store.WalletMovement, int, error) {
	return store.ListMovements(ctx, s.store.Pool(), filter, page.Size, page.offset())
}

// Jobs lists background jobs newest-first.
func (s *Service) Jobs(ctx context.Context, filter store.JobFilter, page Page) ([]*store.Job, int, error) {
	return store.ListJobs(ctx, s.store.Pool(), filter, page.Size, page.offset())
}

// Events lists audit events newest-first.
func (s *Service) Events(ctx context.Context, eventType string, page Page) ([]*store.Event, int, error) {
	return store.ListEvents(ctx, s.store.Pool(), eventType, page.Size, page.offset())
}

// Emails lists recorded simulated emails newest-first.
func (s *Service) Emails(ctx context.Context, page Page) ([]*store.SimulatedEmail, int, error) {
	return store.ListEmails(ctx, s.store.Pool(), page.Size, page.offset())
}

// ResolveUser upserts the user for an email. Used by the idempotency
// middleware, which needs the user id before the engine transaction starts.
func (s *Service) ResolveUser(ctx context.Context, email string) (*store.User, error) {
	return store.UpsertUserByEmail(ctx, s.store.Pool(), email)
}

// IdempotencyGet fetches a stored response cell.
func (s *Service) IdempotencyGet(ctx context.Context, key string, userID uuid.UUID, endpoint string) (*store.IdempotencyKey, error) {
	return store.GetIdempotencyKey(ctx, s.store.Pool(), key, userID, endpoint)
}

// IdempotencyPut stores a response snapshot.
func (s *Service) IdempotencyPut(ctx context.Context, rec *store.IdempotencyKey) error {
	return store.PutIdempotencyKey(ctx, s.store.Pool(), rec)
}

// IdempotencyDelete drops an expired cell.
func (s *Service) IdempotencyDelete(ctx context.Context, key string, userID uuid.UUID, endpoint string) error {
	return store.DeleteIdempotencyKey(ctx, s.store.Pool(), key, userID, endpoint)
}

// CleanupIdempotencyKeys removes expired cells; called from the background
// loop in main.
func (s *Service) CleanupIdempotencyKeys(ctx context.Context) (int64, error) {
	return store.DeleteExpiredIdempotencyKeys(ctx, s.store.Pool(), time.Now().UTC())
}
