// models.go -- row types and status/type constants.
//
// Nullable columns are pointers; nil means SQL NULL.
package store

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// WalletID is the primary key of the singleton library wallet row.
const WalletID = "library-wallet"

// Borrow statuses.
const (
	BorrowActive   = "ACTIVE"
	BorrowReturned = "RETURNED"
)

// Purchase statuses.
const (
	PurchaseActive   = "ACTIVE"
	PurchaseCanceled = "CANCELED"
)

// Wallet movement types.
const (
	MovementBorrowIncome   = "BORROW_INCOME"
	MovementBuyIncome      = "BUY_INCOME"
	MovementCancelRefund   = "CANCEL_REFUND"
	MovementRestockExpense = "RESTOCK_EXPENSE"
	MovementInitialBalance = "INITIAL_BALANCE"
)

// Job types.
const (
	JobRestock  = "RESTOCK"
	JobReminder = "REMINDER"
)

// Job statuses.
const (
	JobPending    = "PENDING"
	JobProcessing = "PROCESSING"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
	JobCanceled   = "CANCELED"
)

// Event types.
const (
	EventBorrow           = "BORROW"
	EventReturn           = "RETURN"
	EventBuy              = "BUY"
	EventCancelBuy        = "CANCEL_BUY"
	EventLowStockEmail    = "LOW_STOCK_EMAIL"
	EventRestockScheduled = "RESTOCK_SCHEDULED"
	EventRestockDelivered = "RESTOCK_DELIVERED"
	EventReminderSent     = "REMINDER_SENT"
	EventMilestoneEmail   = "MILESTONE_EMAIL"
)

// Simulated email types.
const (
	EmailLowStock  = "LOW_STOCK"
	EmailReminder  = "REMINDER"
	EmailMilestone = "MILESTONE"
)

// Book is a row in the books table. The isbn is externally supplied and
// immutable; available_copies never goes below zero (enforced by the
// conditional decrement plus a CHECK constraint).
type Book struct {
	ID              uuid.UUID
	ISBN            string
	Title           string
	Author          string
	Genre           string
	SellCents       int64
	BorrowCents     int64
	StockCents      int64
	AvailableCopies int
	SeededCopies    int
	CreatedAt       time.Time
}

// User is a row in the users table. Auto-created on first interaction.
type User struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
}

// Borrow is a row in the borrows table. ActiveKey is "{user_id}:{book_id}"
// while status is ACTIVE and NULL after return.
type Borrow struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	BookID     uuid.UUID
	Status     string
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	ActiveKey  *string
}

// Purchase is a row in the purchases table. Limits count rows by status;
// there is no active-key column here.
type Purchase struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	BookID      uuid.UUID
	PriceCents  int64
	Status      string
	PurchasedAt time.Time
	CanceledAt  *time.Time
}

// Wallet is the singleton library wallet row. Balance is derived, never stored.
type Wallet struct {
	ID               string
	MilestoneReached bool
	CreatedAt        time.Time
}

// WalletMovement is an append-only ledger row. Rows are never mutated or
// deleted; DedupeKey makes insertion safely retryable.
type WalletMovement struct {
	ID            uuid.UUID
	WalletID      string
	AmountCents   int64
	Type          string
	Reason        string
	RelatedEntity *string
	DedupeKey     *string
	CreatedAt     time.Time
}

// Job is a durable background job row. ActiveKey is non-NULL exactly while
// the job is schedulable; terminal states clear it, releasing the slot.
type Job struct {
	ID          uuid.UUID
	Type        string
	Status      string
	Payload     []byte
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LockedAt    *time.Time
	LastError   *string
	CompletedAt *time.Time
	ActiveKey   *string
	BookID      *uuid.UUID
	BorrowID    *uuid.UUID
	CreatedAt   time.Time
}

// Event is an immutable audit record with soft foreign keys.
type Event struct {
	ID         uuid.UUID
	Type       string
	UserID     *uuid.UUID
	BookID     *uuid.UUID
	BorrowID   *uuid.UUID
	PurchaseID *uuid.UUID
	JobID      *uuid.UUID
	Metadata   []byte
	DedupeKey  *string
	CreatedAt  time.Time
}

// SimulatedEmail is a recorded outbound email. DedupeKey is mandatory here:
// every email in this system has exactly-once semantics.
type SimulatedEmail struct {
	ID        uuid.UUID
	Recipient string
	Subject   string
	Body      string
	Type      string
	DedupeKey string
	CreatedAt time.Time
}

// IdempotencyKey is a cached endpoint response, scoped per (key, user,
// endpoint) and replayed verbatim until it expires.
type IdempotencyKey struct {
	Key        string
	UserID     uuid.UUID
	Endpoint   string
	Response   []byte
	StatusCode int
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
