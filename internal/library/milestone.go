// milestone.go -- the one-shot $2000 wallet threshold. The flag flips
// false→true exactly once, inside a transaction that also read the balance,
// so two racing transactions cannot both send the email: one of them loses
// at commit under serializable isolation.
package library

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/mail"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// Dedupe keys of the milestone side effects. Constant on purpose: the
// milestone happens once for the lifetime of the wallet, not once per
// triggering transaction.
const (
	milestoneEmailDedupe = "MILESTONE:2000"
	milestoneEventDedupe = "MILESTONE_EMAIL:2000"
)

// checkMilestone flips the wallet flag and emits the side effects when the
// balance first exceeds MilestoneCents.
func (s *Service) checkMilestone(ctx context.Context, tx pgx.Tx) error {
	wallet, err := store.GetWallet(ctx, tx)
	if err != nil {
		return err
	}
	if wallet.MilestoneReached {
		return nil
	}
	balance, err := store.WalletBalance(ctx, tx)
	if err != nil {
		return err
	}
	if balance <= MilestoneCents {
		return nil
	}

	if err := store.SetMilestoneReached(ctx, tx); err != nil {
		return err
	}
	msg := mail.Milestone(balance)
	if _, _, err := store.AppendEmail(ctx, tx, msg.Recipient, msg.Subject, msg.Body,
		store.EmailMilestone, milestoneEmailDedupe); err != nil {
		return err
	}
	meta, _ := json.Marshal(map[string]int64{"balanceCents": balance})
	dedupe := milestoneEventDedupe
	if _, err := store.AppendEvent(ctx, tx, store.EventMilestoneEmail,
		store.EventRefs{}, meta, &dedupe); err != nil {
		return err
	}
	return nil
}
