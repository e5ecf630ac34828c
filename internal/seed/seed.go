// Package seed loads the initial catalog from a JSON file and gives the
// wallet its opening balance. Safe to run repeatedly: book inserts skip
// existing ISBNs and the opening movement is deduped.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/uuid/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// initialBalanceDedupe keys the one-time opening movement.
const initialBalanceDedupe = "INITIAL_BALANCE:" + store.WalletID

// BookSeed is one catalog entry in the seed file.
type BookSeed struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	SellCents   int64  `json:"sellCents"`
	BorrowCents int64  `json:"borrowCents"`
	StockCents  int64  `json:"stockCents"`
	Copies      int    `json:"copies"`
}

// Run seeds the catalog from path and, when initialBalanceCents > 0,
// appends the deduped opening movement.
func Run(ctx context.Context, ps *store.PostgresStore, path string, initialBalanceCents int64) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	var books []BookSeed
	if err := json.Unmarshal(raw, &books); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	inserted := 0
	for _, b := range books {
		if b.Copies < 0 || b.SellCents <= 0 || b.BorrowCents <= 0 || b.StockCents <= 0 {
			return fmt.Errorf("invalid seed entry for isbn %q", b.ISBN)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generating book id: %w", err)
		}
		ok, err := store.InsertBook(ctx, ps.Pool(), &store.Book{
			ID:              id,
			ISBN:            b.ISBN,
			Title:           b.Title,
			Author:          b.Author,
			Genre:           b.Genre,
			SellCents:       b.SellCents,
			BorrowCents:     b.BorrowCents,
			StockCents:      b.StockCents,
			AvailableCopies: b.Copies,
			SeededCopies:    b.Copies,
		})
		if err != nil {
			return err
		}
		if ok {
			inserted++
		}
	}
	slog.Info("catalog seeded", "total", len(books), "inserted", inserted)

	if initialBalanceCents > 0 {
		dedupe := initialBalanceDedupe
		if _, err := store.AppendMovement(ctx, ps.Pool(), initialBalanceCents,
			store.MovementInitialBalance, "opening balance", nil, &dedupe); err != nil {
			return err
		}
		slog.Info("opening balance ensured", "amount_cents", initialBalanceCents)
	}
	return nil
}
