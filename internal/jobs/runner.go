// Package jobs runs the durable background queue: a single poll loop that
// claims due rows with an atomic lease and dispatches them to registered
// handlers, each in its own serializable transaction.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// HandlerFunc processes one claimed job. A nil return completes the job; an
// error reschedules it with backoff until attempts run out.
type HandlerFunc func(ctx context.Context, job *store.Job) error

// Config carries the runner's scheduling knobs.
type Config struct {
	PollInterval time.Duration
	Lease        time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	BatchSize    int
}

// Runner polls the jobs table and drives claimed jobs to a terminal state.
// One Runner per process; claims stay safe with more because the claim
// UPDATE is atomic.
type Runner struct {
	store    *store.PostgresStore
	handlers map[string]HandlerFunc
	cfg      Config

	// now is swappable in tests.
	now func() time.Time
}

// NewRunner builds a Runner with no handlers registered.
func NewRunner(ps *store.PostgresStore, cfg Config) *Runner {
	return &Runner{
		store:    ps,
		handlers: make(map[string]HandlerFunc),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register installs the handler for a job type.
func (r *Runner) Register(jobType string, fn HandlerFunc) {
	r.handlers[jobType] = fn
}

// Run polls until ctx is cancelled. Call in a goroutine from main.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	slog.Info("job runner started", "poll_interval", r.cfg.PollInterval, "lease", r.cfg.Lease)
	for {
		r.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			slog.Info("job runner stopped")
			return
		}
	}
}

// tick claims and dispatches one batch of due jobs. Returns how many jobs
// reached a terminal or rescheduled state this pass.
func (r *Runner) tick(ctx context.Context) int {
	now := r.now().UTC()
	due, err := store.DueJobs(ctx, r.store.Pool(), now, r.cfg.Lease, r.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("job poll failed", "error", err)
		}
		return 0
	}

	processed := 0
	for _, job := range due {
		if ctx.Err() != nil {
			return processed
		}
		if r.dispatch(ctx, job) {
			processed++
		}
	}
	return processed
}

// dispatch claims one job and runs it to an outcome.
func (r *Runner) dispatch(ctx context.Context, job *store.Job) bool {
	now := r.now().UTC()

	// A lease-expired row that already burned its attempt budget cannot be
	// dispatched again; close it out instead of leaving it stuck.
	if job.Attempts >= job.MaxAttempts {
		if err := store.FailJob(ctx, r.store.Pool(), job.ID, now, "attempts exhausted"); err != nil {
			slog.Error("failing exhausted job", "job_id", job.ID, "error", err)
			return false
		}
		slog.Warn("job failed: attempts exhausted", "job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts)
		return true
	}

	claimed, won, err := store.ClaimJob(ctx, r.store.Pool(), job.ID, now, r.cfg.Lease)
	if err != nil {
		slog.Error("claiming job", "job_id", job.ID, "error", err)
		return false
	}
	if !won {
		// Another worker got there first.
		return false
	}

	handler, ok := r.handlers[claimed.Type]
	if !ok {
		if err := store.FailJob(ctx, r.store.Pool(), claimed.ID, now, "no handler registered for type "+claimed.Type); err != nil {
			slog.Error("failing handlerless job", "job_id", claimed.ID, "error", err)
			return false
		}
		slog.Error("job failed: no handler", "job_id", claimed.ID, "job_type", claimed.Type)
		return true
	}

	handlerErr := handler(ctx, claimed)
	finishedAt := r.now().UTC()
	if handlerErr == nil {
		if err := store.CompleteJob(ctx, r.store.Pool(), claimed.ID, finishedAt); err != nil {
			slog.Error("completing job", "job_id", claimed.ID, "error", err)
			return false
		}
		slog.Info("job completed", "job_id", claimed.ID, "job_type", claimed.Type, "attempt", claimed.Attempts)
		return true
	}
	if ctx.Err() != nil && errors.Is(handlerErr, ctx.Err()) {
		// Shutdown, not failure; the lease expiry hands the job to the next run.
		return false
	}

	if claimed.Attempts >= claimed.MaxAttempts {
		if err := store.FailJob(ctx, r.store.Pool(), claimed.ID, finishedAt, handlerErr.Error()); err != nil {
			slog.Error("failing job", "job_id", claimed.ID, "error", err)
			return false
		}
		slog.Error("job failed: attempts exhausted", "job_id", claimed.ID, "job_type", claimed.Type,
			"attempts", claimed.Attempts, "error", handlerErr)
		return true
	}

	runAt := finishedAt.Add(Backoff(r.cfg.BackoffBase, r.cfg.BackoffCap, claimed.Attempts))
	if err := store.RescheduleJob(ctx, r.store.Pool(), claimed.ID, runAt, handlerErr.Error()); err != nil {
		slog.Error("rescheduling job", "job_id", claimed.ID, "error", err)
		return false
	}
	slog.Warn("job rescheduled", "job_id", claimed.ID, "job_type", claimed.Type,
		"attempt", claimed.Attempts, "run_at", runAt, "error", handlerErr)
	return true
}

// Backoff computes the retry delay after the given attempt (1-based):
// min(base * 2^(attempts-1), cap).
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
