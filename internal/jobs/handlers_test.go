package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// testStore stays nil when TEST_DATABASE_URL is unset; the handler and
// runner integration tests skip in that case (the Backoff tests still run).
var testStore *store.PostgresStore

const testTxTimeout = 30 * time.Second

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	ps, err := store.NewPostgresStore(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	testStore = ps

	if err := testStore.Migrate(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		testStore.Close()
		os.Exit(1)
	}

	code := m.Run()
	testStore.Close()
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testStore == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
}

// --- Helpers ---

func mustBook(t *testing.T, ctx context.Context, available, seeded int, stockCents int64) *store.Book {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	isbn, _ := uuid.NewV4()
	b := &store.Book{
		ID:              id,
		ISBN:            isbn.String(),
		Title:           "Job Test Book " + id.String()[:8],
		Author:          "Test Author",
		Genre:           "Testing",
		SellCents:       2500,
		BorrowCents:     300,
		StockCents:      stockCents,
		AvailableCopies: available,
		SeededCopies:    seeded,
	}
	ok, err := store.InsertBook(ctx, testStore.Pool(), b)
	if err != nil || !ok {
		t.Fatalf("inserting book: ok=%v err=%v", ok, err)
	}
	return b
}

func mustRestockJob(t *testing.T, ctx context.Context, book *store.Book) *store.Job {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"bookId": book.ID.String(), "isbn": book.ISBN})
	job, inserted, err := store.InsertJob(ctx, testStore.Pool(), store.NewJob{
		Type:        store.JobRestock,
		ActiveKey:   store.RestockActiveKey(book.ID),
		RunAt:       time.Now().UTC().Add(-time.Minute),
		Payload:     payload,
		MaxAttempts: 10,
		BookID:      &book.ID,
	})
	if err != nil || !inserted {
		t.Fatalf("inserting restock job: inserted=%v err=%v", inserted, err)
	}
	return job
}

// fundWallet appends a uniquely-keyed credit so restock tests can pay.
func fundWallet(t *testing.T, ctx context.Context, cents int64) {
	t.Helper()
	seed, _ := uuid.NewV4()
	dedupe := "TEST_FUNDS:" + seed.String()
	if _, err := store.AppendMovement(ctx, testStore.Pool(), cents,
		store.MovementInitialBalance, "job test funds", nil, &dedupe); err != nil {
		t.Fatal(err)
	}
}

func walletBalance(t *testing.T, ctx context.Context) int64 {
	t.Helper()
	b, err := store.WalletBalance(ctx, testStore.Pool())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// --- Restock handler ---

func TestRestockHandler(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	handler := NewRestockHandler(testStore, testTxTimeout)

	t.Run("replenishes to the seeded level and debits the wallet", func(t *testing.T) {
		book := mustBook(t, ctx, 3, 10, 100)
		fundWallet(t, ctx, 700+walletHeadroom(t, ctx))
		job := mustRestockJob(t, ctx, book)
		before := walletBalance(t, ctx)

		if err := handler(ctx, job); err != nil {
			t.Fatalf("restock: %v", err)
		}

		got, err := store.GetBookByID(ctx, testStore.Pool(), book.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.AvailableCopies != 10 {
			t.Errorf("available = %d, want 10", got.AvailableCopies)
		}
		if delta := walletBalance(t, ctx) - before; delta != -700 {
			t.Errorf("wallet delta = %d, want -700", delta)
		}
	})

	t.Run("re-running a delivered restock changes nothing", func(t *testing.T) {
		book := mustBook(t, ctx, 3, 10, 100)
		fundWallet(t, ctx, 700+walletHeadroom(t, ctx))
		job := mustRestockJob(t, ctx, book)
		if err := handler(ctx, job); err != nil {
			t.Fatal(err)
		}
		before := walletBalance(t, ctx)

		// Simulates a worker crash after commit but before CompleteJob.
		if err := handler(ctx, job); err != nil {
			t.Fatalf("second run: %v", err)
		}
		got, _ := store.GetBookByID(ctx, testStore.Pool(), book.ID)
		if got.AvailableCopies != 10 {
			t.Errorf("available = %d, want 10", got.AvailableCopies)
		}
		if delta := walletBalance(t, ctx) - before; delta != 0 {
			t.Errorf("wallet delta = %d, want 0", delta)
		}
	})

	t.Run("insufficient funds raises for retry", func(t *testing.T) {
		// A huge order no test wallet can cover.
		book := mustBook(t, ctx, 0, 1000000, 1000000)
		job := mustRestockJob(t, ctx, book)

		err := handler(ctx, job)
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("err = %v, want ErrInsufficientFunds", err)
		}
		// Nothing moved.
		got, _ := store.GetBookByID(ctx, testStore.Pool(), book.ID)
		if got.AvailableCopies != 0 {
			t.Errorf("available = %d, want 0", got.AvailableCopies)
		}
	})

	t.Run("fully stocked is a no-op success", func(t *testing.T) {
		book := mustBook(t, ctx, 10, 10, 100)
		job := mustRestockJob(t, ctx, book)
		before := walletBalance(t, ctx)
		if err := handler(ctx, job); err != nil {
			t.Fatal(err)
		}
		if delta := walletBalance(t, ctx) - before; delta != 0 {
			t.Errorf("wallet delta = %d, want 0", delta)
		}
	})
}

// walletHeadroom returns how many cents the wallet is short of zero, so
// tests can fund exact deltas even when earlier tests left debits behind.
func walletHeadroom(t *testing.T, ctx context.Context) int64 {
	t.Helper()
	b := walletBalance(t, ctx)
	if b >= 0 {
		return 0
	}
	return -b
}

// --- Reminder handler ---

func TestReminderHandler(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	handler := NewReminderHandler(testStore, testTxTimeout)

	newBorrow := func(t *testing.T) (*store.Borrow, *store.Book, string) {
		book := mustBook(t, ctx, 2, 2, 100)
		seed, _ := uuid.NewV4()
		email := "reminder-" + seed.String() + "@example.com"
		user, err := store.UpsertUserByEmail(ctx, testStore.Pool(), email)
		if err != nil {
			t.Fatal(err)
		}
		now := time.Now().UTC()
		borrow, err := store.InsertBorrow(ctx, testStore.Pool(), user.ID, book.ID, now, now.Add(72*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		return borrow, book, email
	}

	newReminderJob := func(t *testing.T, borrow *store.Borrow, email string) *store.Job {
		payload, _ := json.Marshal(map[string]string{"borrowId": borrow.ID.String(), "userEmail": email})
		job, inserted, err := store.InsertJob(ctx, testStore.Pool(), store.NewJob{
			Type:        store.JobReminder,
			ActiveKey:   store.ReminderActiveKey(borrow.ID),
			RunAt:       borrow.DueAt,
			Payload:     payload,
			MaxAttempts: 10,
			BorrowID:    &borrow.ID,
		})
		if err != nil || !inserted {
			t.Fatalf("inserting reminder job: inserted=%v err=%v", inserted, err)
		}
		return job
	}

	t.Run("sends exactly one email per borrow", func(t *testing.T) {
		borrow, _, email := newBorrow(t)
		job := newReminderJob(t, borrow, email)

		if err := handler(ctx, job); err != nil {
			t.Fatalf("reminder: %v", err)
		}
		sent, err := store.GetEmailByDedupeKey(ctx, testStore.Pool(), "REMINDER:"+borrow.ID.String())
		if err != nil {
			t.Fatalf("reminder email not recorded: %v", err)
		}
		if sent.Recipient != email || sent.Type != store.EmailReminder {
			t.Errorf("email = %+v", sent)
		}

		// A reset-and-reprocessed job must find the recorded email and stop.
		if err := handler(ctx, job); err != nil {
			t.Fatalf("second run: %v", err)
		}
	})

	t.Run("returned borrow sends nothing", func(t *testing.T) {
		borrow, _, email := newBorrow(t)
		job := newReminderJob(t, borrow, email)
		if _, err := store.MarkBorrowReturned(ctx, testStore.Pool(), borrow.ID, time.Now().UTC()); err != nil {
			t.Fatal(err)
		}

		if err := handler(ctx, job); err != nil {
			t.Fatalf("reminder after return: %v", err)
		}
		_, err := store.GetEmailByDedupeKey(ctx, testStore.Pool(), "REMINDER:"+borrow.ID.String())
		if !errors.Is(err, pgx.ErrNoRows) {
			t.Errorf("email recorded for a returned borrow: %v", err)
		}
	})

	t.Run("missing borrow is a no-op success", func(t *testing.T) {
		ghost, _ := uuid.NewV7()
		payload, _ := json.Marshal(map[string]string{"borrowId": ghost.String(), "userEmail": "x@example.com"})
		job := &store.Job{ID: ghost, Type: store.JobReminder, Payload: payload}
		if err := handler(ctx, job); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})
}

// --- Runner dispatch ---

func TestRunnerDispatch(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	newRunner := func() *Runner {
		return NewRunner(testStore, Config{
			PollInterval: time.Second,
			Lease:        60 * time.Second,
			BackoffBase:  60 * time.Second,
			BackoffCap:   3600 * time.Second,
			BatchSize:    100,
		})
	}

	t.Run("failure reschedules with backoff, keeping the slot", func(t *testing.T) {
		book := mustBook(t, ctx, 1, 1, 100)
		job := mustRestockJob(t, ctx, book)

		r := newRunner()
		r.Register(store.JobRestock, func(ctx context.Context, j *store.Job) error {
			return errors.New("handler boom")
		})
		r.tick(ctx)

		got, err := store.GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != store.JobPending || got.ActiveKey == nil {
			t.Errorf("job = status %s activeKey %v", got.Status, got.ActiveKey)
		}
		if got.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", got.Attempts)
		}
		if got.LastError == nil || *got.LastError != "handler boom" {
			t.Errorf("lastError = %v", got.LastError)
		}
		if !got.RunAt.After(time.Now().Add(50 * time.Second)) {
			t.Errorf("run_at = %v, want ~60s in the future", got.RunAt)
		}
	})

	t.Run("success completes and releases the slot", func(t *testing.T) {
		book := mustBook(t, ctx, 1, 1, 100)
		job := mustRestockJob(t, ctx, book)

		r := newRunner()
		r.Register(store.JobRestock, func(ctx context.Context, j *store.Job) error {
			return nil
		})
		r.tick(ctx)

		got, err := store.GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != store.JobCompleted || got.ActiveKey != nil {
			t.Errorf("job = %+v", got)
		}
	})

	t.Run("final attempt failure marks FAILED", func(t *testing.T) {
		book := mustBook(t, ctx, 1, 1, 100)
		payload, _ := json.Marshal(map[string]string{"bookId": book.ID.String(), "isbn": book.ISBN})
		job, inserted, err := store.InsertJob(ctx, testStore.Pool(), store.NewJob{
			Type:        store.JobRestock,
			ActiveKey:   store.RestockActiveKey(book.ID),
			RunAt:       time.Now().UTC().Add(-time.Minute),
			Payload:     payload,
			MaxAttempts: 1,
			BookID:      &book.ID,
		})
		if err != nil || !inserted {
			t.Fatal(err)
		}

		r := newRunner()
		r.Register(store.JobRestock, func(ctx context.Context, j *store.Job) error {
			return errors.New("still broken")
		})
		r.tick(ctx)

		got, err := store.GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != store.JobFailed || got.ActiveKey != nil || got.CompletedAt == nil {
			t.Errorf("job = %+v", got)
		}
	})

	t.Run("unregistered type fails the job", func(t *testing.T) {
		book := mustBook(t, ctx, 1, 1, 100)
		job := mustRestockJob(t, ctx, book)

		r := newRunner() // nothing registered
		r.tick(ctx)

		got, err := store.GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != store.JobFailed {
			t.Errorf("status = %s, want FAILED", got.Status)
		}
	})
}
