package store

import (
	"context"
	"testing"
	"time"
)

// --- HashLockKey (no DB required) ---

func TestHashLockKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := HashLockKey("reader@example.com")
		b := HashLockKey("reader@example.com")
		if a != b {
			t.Errorf("same input hashed differently: %d vs %d", a, b)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		inputs := []string{"", "a", "reader@example.com", "zzzzzzzzzzzzzzzzzzzzzzzz", "\xff\xff\xff\xff"}
		for _, in := range inputs {
			if h := HashLockKey(in); h < 0 {
				t.Errorf("HashLockKey(%q) = %d, want non-negative", in, h)
			}
		}
	})

	t.Run("distinct common inputs differ", func(t *testing.T) {
		if HashLockKey("a@example.com") == HashLockKey("b@example.com") {
			t.Error("trivially distinct emails collided")
		}
	})
}

// --- Books ---

func TestDecrementBookCopies(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	book := mustBook(t, ctx, 2)

	remaining, took, err := DecrementBookCopies(ctx, testStore.Pool(), book.ISBN)
	if err != nil || !took || remaining != 1 {
		t.Fatalf("first decrement: remaining=%d took=%v err=%v", remaining, took, err)
	}
	remaining, took, err = DecrementBookCopies(ctx, testStore.Pool(), book.ISBN)
	if err != nil || !took || remaining != 0 {
		t.Fatalf("second decrement: remaining=%d took=%v err=%v", remaining, took, err)
	}

	// Out of stock: the guard must refuse rather than go negative.
	_, took, err = DecrementBookCopies(ctx, testStore.Pool(), book.ISBN)
	if err != nil {
		t.Fatalf("third decrement errored: %v", err)
	}
	if took {
		t.Fatal("decrement succeeded on an out-of-stock book")
	}

	if err := IncrementBookCopies(ctx, testStore.Pool(), book.ID); err != nil {
		t.Fatalf("increment: %v", err)
	}
	got, err := GetBookByID(ctx, testStore.Pool(), book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AvailableCopies != 1 {
		t.Errorf("available = %d, want 1", got.AvailableCopies)
	}
}

func TestInsertBookIdempotent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	book := mustBook(t, ctx, 1)

	// Same ISBN again: skipped, not an error.
	dup := *book
	ok, err := InsertBook(ctx, testStore.Pool(), &dup)
	if err != nil {
		t.Fatalf("duplicate insert errored: %v", err)
	}
	if ok {
		t.Error("duplicate insert reported as inserted")
	}
}

// --- Wallet ledger ---

func TestAppendMovementDedupe(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	before, err := WalletBalance(ctx, testStore.Pool())
	if err != nil {
		t.Fatal(err)
	}

	key := "TEST:" + mustUser(t, ctx).ID.String()
	first, err := AppendMovement(ctx, testStore.Pool(), 500, MovementBorrowIncome, "test income", nil, &key)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	second, err := AppendMovement(ctx, testStore.Pool(), 500, MovementBorrowIncome, "test income", nil, &key)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("dedupe returned a different row: %s vs %s", first.ID, second.ID)
	}

	after, err := WalletBalance(ctx, testStore.Pool())
	if err != nil {
		t.Fatal(err)
	}
	if after-before != 500 {
		t.Errorf("balance delta = %d, want 500 (exactly one credit)", after-before)
	}
}

func TestAppendMovementWithoutDedupeKey(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	before, _ := WalletBalance(ctx, testStore.Pool())
	if _, err := AppendMovement(ctx, testStore.Pool(), 100, MovementBorrowIncome, "no dedupe", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := AppendMovement(ctx, testStore.Pool(), 100, MovementBorrowIncome, "no dedupe", nil, nil); err != nil {
		t.Fatal(err)
	}
	after, _ := WalletBalance(ctx, testStore.Pool())
	if after-before != 200 {
		t.Errorf("balance delta = %d, want 200 (keyless rows never dedupe)", after-before)
	}
}

// --- Borrow active key ---

func TestBorrowActiveKeyUniqueness(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := mustUser(t, ctx)
	book := mustBook(t, ctx, 5)
	now := time.Now().UTC()

	first, err := InsertBorrow(ctx, testStore.Pool(), user.ID, book.ID, now, now.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}

	// The unique index is the backstop behind the engine's precondition read.
	_, err = InsertBorrow(ctx, testStore.Pool(), user.ID, book.ID, now, now.Add(72*time.Hour))
	if err == nil {
		t.Fatal("second ACTIVE borrow for the same (user, book) was accepted")
	}
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	// Returning clears the key and frees the slot.
	if _, err := MarkBorrowReturned(ctx, testStore.Pool(), first.ID, now); err != nil {
		t.Fatal(err)
	}
	if _, err := InsertBorrow(ctx, testStore.Pool(), user.ID, book.ID, now, now.Add(72*time.Hour)); err != nil {
		t.Fatalf("borrow after return: %v", err)
	}
}
