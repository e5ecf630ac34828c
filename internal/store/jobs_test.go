package store

import (
	"context"
	"testing"
	"time"
)

const testLease = 60 * time.Second

func TestJobLifecycle(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	book := mustBook(t, ctx, 1)
	now := time.Now().UTC()

	job, inserted, err := InsertJob(ctx, testStore.Pool(), NewJob{
		Type:        JobRestock,
		ActiveKey:   RestockActiveKey(book.ID),
		RunAt:       now.Add(-time.Minute),
		MaxAttempts: 10,
		BookID:      &book.ID,
	})
	if err != nil || !inserted {
		t.Fatalf("insert: inserted=%v err=%v", inserted, err)
	}

	t.Run("active key slot is exclusive", func(t *testing.T) {
		_, again, err := InsertJob(ctx, testStore.Pool(), NewJob{
			Type:        JobRestock,
			ActiveKey:   RestockActiveKey(book.ID),
			RunAt:       now,
			MaxAttempts: 10,
			BookID:      &book.ID,
		})
		if err != nil {
			t.Fatalf("duplicate insert errored: %v", err)
		}
		if again {
			t.Error("second live restock job for the same book was accepted")
		}
	})

	t.Run("due and claimable exactly once", func(t *testing.T) {
		due, err := DueJobs(ctx, testStore.Pool(), now, testLease, 100)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, d := range due {
			if d.ID == job.ID {
				found = true
			}
		}
		if !found {
			t.Fatal("inserted job not listed as due")
		}

		claimed, won, err := ClaimJob(ctx, testStore.Pool(), job.ID, now, testLease)
		if err != nil || !won {
			t.Fatalf("claim: won=%v err=%v", won, err)
		}
		if claimed.Status != JobProcessing || claimed.Attempts != 1 {
			t.Errorf("claimed job = %s attempts=%d", claimed.Status, claimed.Attempts)
		}

		// A second claim inside the lease must lose.
		_, won, err = ClaimJob(ctx, testStore.Pool(), job.ID, now, testLease)
		if err != nil {
			t.Fatal(err)
		}
		if won {
			t.Error("job claimed twice inside the lease")
		}
	})

	t.Run("lease expiry makes the job reclaimable", func(t *testing.T) {
		later := now.Add(testLease + time.Minute)
		claimed, won, err := ClaimJob(ctx, testStore.Pool(), job.ID, later, testLease)
		if err != nil || !won {
			t.Fatalf("reclaim after lease: won=%v err=%v", won, err)
		}
		if claimed.Attempts != 2 {
			t.Errorf("attempts = %d, want 2", claimed.Attempts)
		}
	})

	t.Run("reschedule keeps the slot", func(t *testing.T) {
		retryAt := now.Add(2 * time.Minute)
		if err := RescheduleJob(ctx, testStore.Pool(), job.ID, retryAt, "boom"); err != nil {
			t.Fatal(err)
		}
		got, err := GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != JobPending || got.ActiveKey == nil || got.LockedAt != nil {
			t.Errorf("rescheduled job = %+v", got)
		}
		if got.LastError == nil || *got.LastError != "boom" {
			t.Errorf("lastError = %v", got.LastError)
		}
		// Not yet due again.
		due, err := DueJobs(ctx, testStore.Pool(), now, testLease, 100)
		if err != nil {
			t.Fatal(err)
		}
		for _, d := range due {
			if d.ID == job.ID {
				t.Error("rescheduled job listed as due before its run_at")
			}
		}
	})

	t.Run("completion releases the slot", func(t *testing.T) {
		if err := CompleteJob(ctx, testStore.Pool(), job.ID, now); err != nil {
			t.Fatal(err)
		}
		got, err := GetJobByID(ctx, testStore.Pool(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != JobCompleted || got.ActiveKey != nil || got.CompletedAt == nil {
			t.Errorf("completed job = %+v", got)
		}
		if got.LastError != nil {
			t.Errorf("lastError should clear on completion, got %v", got.LastError)
		}

		// Slot free again: a fresh restock for the same book may be scheduled.
		_, inserted, err := InsertJob(ctx, testStore.Pool(), NewJob{
			Type:        JobRestock,
			ActiveKey:   RestockActiveKey(book.ID),
			RunAt:       now,
			MaxAttempts: 10,
			BookID:      &book.ID,
		})
		if err != nil || !inserted {
			t.Fatalf("insert after completion: inserted=%v err=%v", inserted, err)
		}
	})
}

func TestCancelReminderJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	user := mustUser(t, ctx)
	book := mustBook(t, ctx, 1)
	now := time.Now().UTC()

	borrow, err := InsertBorrow(ctx, testStore.Pool(), user.ID, book.ID, now, now.Add(72*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	job, inserted, err := InsertJob(ctx, testStore.Pool(), NewJob{
		Type:        JobReminder,
		ActiveKey:   ReminderActiveKey(borrow.ID),
		RunAt:       borrow.DueAt,
		MaxAttempts: 10,
		BookID:      &book.ID,
		BorrowID:    &borrow.ID,
	})
	if err != nil || !inserted {
		t.Fatalf("insert reminder: inserted=%v err=%v", inserted, err)
	}

	if err := CancelReminderJob(ctx, testStore.Pool(), borrow.ID); err != nil {
		t.Fatal(err)
	}
	got, err := GetJobByID(ctx, testStore.Pool(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobCanceled || got.ActiveKey != nil {
		t.Errorf("canceled job = %+v", got)
	}

	// Canceling again is a harmless no-op.
	if err := CancelReminderJob(ctx, testStore.Pool(), borrow.ID); err != nil {
		t.Fatal(err)
	}
}

func TestFailJob(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	book := mustBook(t, ctx, 1)
	now := time.Now().UTC()

	job, inserted, err := InsertJob(ctx, testStore.Pool(), NewJob{
		Type:        JobRestock,
		ActiveKey:   RestockActiveKey(book.ID),
		RunAt:       now,
		MaxAttempts: 1,
		BookID:      &book.ID,
	})
	if err != nil || !inserted {
		t.Fatalf("insert: inserted=%v err=%v", inserted, err)
	}
	if err := FailJob(ctx, testStore.Pool(), job.ID, now, "gave up"); err != nil {
		t.Fatal(err)
	}
	got, err := GetJobByID(ctx, testStore.Pool(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != JobFailed || got.ActiveKey != nil || got.LastError == nil {
		t.Errorf("failed job = %+v", got)
	}
}
