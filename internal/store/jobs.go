// jobs.go -- the durable job queue. Scheduling discipline:
//
//   - active_key is non-NULL exactly while a job is schedulable (PENDING or
//     PROCESSING); the unique index on it means at most one live job per
//     logical slot ("RESTOCK:{book_id}", "REMINDER:{borrow_id}").
//   - claiming is an atomic conditional UPDATE, so no two workers ever hold
//     the same job; a PROCESSING row whose lease expired is reclaimable.
//   - every terminal transition (COMPLETED/FAILED/CANCELED) clears
//     active_key, releasing the slot for future scheduling.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, type, status, payload, run_at, attempts, max_attempts,
	locked_at, last_error, completed_at, active_key, book_id, borrow_id, created_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Payload, &j.RunAt,
		&j.Attempts, &j.MaxAttempts, &j.LockedAt, &j.LastError,
		&j.CompletedAt, &j.ActiveKey, &j.BookID, &j.BorrowID, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// RestockActiveKey is the logical slot for a book's pending restock.
func RestockActiveKey(bookID uuid.UUID) string {
	return fmt.Sprintf("RESTOCK:%s", bookID)
}

// ReminderActiveKey is the logical slot for a borrow's due-date reminder.
func ReminderActiveKey(borrowID uuid.UUID) string {
	return fmt.Sprintf("REMINDER:%s", borrowID)
}

// NewJob describes a job to schedule.
type NewJob struct {
	Type        string
	ActiveKey   string
	RunAt       time.Time
	Payload     []byte
	MaxAttempts int
	BookID      *uuid.UUID
	BorrowID    *uuid.UUID
}

// InsertJob schedules a PENDING job. When another live job already holds the
// same active_key the insert is absorbed and inserted=false is returned with
// a nil job. Payload may be nil (stored as the empty object).
func InsertJob(ctx context.Context, q Querier, nj NewJob) (*Job, bool, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generating job id: %w", err)
	}
	payload := nj.Payload
	if payload == nil {
		payload = []byte(`{}`)
	}
	j, err := scanJob(q.QueryRow(ctx, `
		INSERT INTO jobs (id, type, status, payload, run_at, max_attempts, active_key, book_id, borrow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (active_key) DO NOTHING
		RETURNING `+jobColumns,
		id, nj.Type, JobPending, payload, nj.RunAt, nj.MaxAttempts,
		nj.ActiveKey, nj.BookID, nj.BorrowID))
	if err == nil {
		return j, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("inserting job: %w", err)
}

// GetJobByID fetches a job by primary key. Returns pgx.ErrNoRows if absent.
func GetJobByID(ctx context.Context, q Querier, id uuid.UUID) (*Job, error) {
	return scanJob(q.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = $1", id))
}

// GetJobByActiveKey fetches the live job holding a logical slot.
// Returns pgx.ErrNoRows if no live job holds it.
func GetJobByActiveKey(ctx context.Context, q Querier, activeKey string) (*Job, error) {
	return scanJob(q.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE active_key = $1", activeKey))
}

// GetReminderJobByBorrowID fetches a borrow's reminder job in any status.
// Returns pgx.ErrNoRows if none was ever scheduled.
func GetReminderJobByBorrowID(ctx context.Context, q Querier, borrowID uuid.UUID) (*Job, error) {
	return scanJob(q.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE borrow_id = $1 AND type = $2",
		borrowID, JobReminder))
}

// GetLiveRestockJob fetches the live RESTOCK job for a book, if one exists.
// Returns pgx.ErrNoRows if none is scheduled.
func GetLiveRestockJob(ctx context.Context, q Querier, bookID uuid.UUID) (*Job, error) {
	return scanJob(q.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE book_id = $1 AND type = $2 AND active_key IS NOT NULL`,
		bookID, JobRestock))
}

// DueJobs lists up to limit claimable jobs, oldest run_at first: PENDING
// rows that are due, plus PROCESSING rows whose lease expired. Rows that
// have exhausted their attempts are still listed; the runner fails them
// instead of claiming them.
func DueJobs(ctx context.Context, q Querier, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	rows, err := q.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE active_key IS NOT NULL
		  AND (   (status = $1 AND run_at <= $3)
		       OR (status = $2 AND locked_at < $4))
		ORDER BY run_at ASC
		LIMIT $5`,
		JobPending, JobProcessing, now, now.Add(-lease), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically takes ownership of a job: PROCESSING, lease stamped,
// attempt counted. Returns the claimed row, or claimed=false when another
// worker won the race (zero rows matched the guard).
func ClaimJob(ctx context.Context, q Querier, id uuid.UUID, now time.Time, lease time.Duration) (*Job, bool, error) {
	j, err := scanJob(q.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, locked_at = $4, attempts = attempts + 1
		WHERE id = $1
		  AND active_key IS NOT NULL
		  AND (status = $3 OR (status = $2 AND locked_at < $5))
		RETURNING `+jobColumns,
		id, JobProcessing, JobPending, now, now.Add(-lease)))
	if err == nil {
		return j, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("claiming job %s: %w", id, err)
}

// CompleteJob marks a job COMPLETED and releases its logical slot.
func CompleteJob(ctx context.Context, q Querier, id uuid.UUID, now time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, active_key = NULL, completed_at = $3, locked_at = NULL, last_error = NULL
		WHERE id = $1`,
		id, JobCompleted, now)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return nil
}

// FailJob marks a job FAILED (attempts exhausted) and releases its slot.
func FailJob(ctx context.Context, q Querier, id uuid.UUID, now time.Time, lastError string) error {
	_, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, active_key = NULL, completed_at = $3, locked_at = NULL, last_error = $4
		WHERE id = $1`,
		id, JobFailed, now, lastError)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return nil
}

// RescheduleJob puts a failed attempt back to PENDING at runAt, keeping
// active_key so the logical slot stays occupied across the retry.
func RescheduleJob(ctx context.Context, q Querier, id uuid.UUID, runAt time.Time, lastError string) error {
	_, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, locked_at = NULL, run_at = $3, last_error = $4
		WHERE id = $1`,
		id, JobPending, runAt, lastError)
	if err != nil {
		return fmt.Errorf("rescheduling job %s: %w", id, err)
	}
	return nil
}

// CancelReminderJob cancels the live REMINDER job for a borrow, if any.
// Used when the borrow is returned before its due date.
func CancelReminderJob(ctx context.Context, q Querier, borrowID uuid.UUID) error {
	_, err := q.Exec(ctx, `
		UPDATE jobs
		SET status = $2, active_key = NULL, locked_at = NULL
		WHERE borrow_id = $1 AND type = $3 AND active_key IS NOT NULL`,
		borrowID, JobCanceled, JobReminder)
	if err != nil {
		return fmt.Errorf("canceling reminder job for borrow %s: %w", borrowID, err)
	}
	return nil
}

// JobFilter narrows the admin job listing. Empty fields match everything.
type JobFilter struct {
	Status string
	Type   string
}

// ListJobs returns a page of jobs newest-first plus the total match count.
func ListJobs(ctx context.Context, q Querier, filter JobFilter, limit, offset int) ([]*Job, int, error) {
	cond := "TRUE"
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		cond += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		cond += fmt.Sprintf(" AND type = $%d", len(args))
	}

	var total int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}
