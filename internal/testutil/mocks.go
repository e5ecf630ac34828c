// mocks.go
//
// Shared mock implementations of the consumer-side interfaces defined in
// internal/library. Imported by test files across packages to avoid
// duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/library"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// MockService implements library.LibraryService for handler tests.
// Set the *Result/*Err fields to script responses; the Last* fields record
// the most recent call's arguments.
type MockService struct {
	BorrowResult *library.BorrowResult
	BorrowErr    error
	ReturnResult *library.BorrowResult
	ReturnErr    error
	BuyResult    *library.PurchaseResult
	BuyErr       error
	CancelResult *library.PurchaseResult
	CancelErr    error

	Books    []*store.Book
	BooksErr error

	WalletResult *library.WalletSummary
	WalletErr    error

	MovementRows []*store.WalletMovement
	JobRows      []*store.Job
	EventRows    []*store.Event
	EmailRows    []*store.SimulatedEmail

	LastEmail      string
	LastISBN       string
	LastPurchaseID uuid.UUID
	LastFilter     store.BookFilter
	LastPage       library.Page

	BuyCalls int
}

func (m *MockService) Borrow(_ context.Context, email, isbn string) (*library.BorrowResult, error) {
	m.LastEmail, m.LastISBN = email, isbn
	return m.BorrowResult, m.BorrowErr
}

func (m *MockService) Return(_ context.Context, email, isbn string) (*library.BorrowResult, error) {
	m.LastEmail, m.LastISBN = email, isbn
	return m.ReturnResult, m.ReturnErr
}

func (m *MockService) Buy(_ context.Context, email, isbn string) (*library.PurchaseResult, error) {
	m.LastEmail, m.LastISBN = email, isbn
	m.BuyCalls++
	return m.BuyResult, m.BuyErr
}

func (m *MockService) Cancel(_ context.Context, email string, purchaseID uuid.UUID) (*library.PurchaseResult, error) {
	m.LastEmail, m.LastPurchaseID = email, purchaseID
	return m.CancelResult, m.CancelErr
}

func (m *MockService) SearchBooks(_ context.Context, filter store.BookFilter, page library.Page) ([]*store.Book, int, error) {
	m.LastFilter, m.LastPage = filter, page
	return m.Books, len(m.Books), m.BooksErr
}

func (m *MockService) Wallet(_ context.Context) (*library.WalletSummary, error) {
	return m.WalletResult, m.WalletErr
}

func (m *MockService) Movements(_ context.Context, _ store.MovementFilter, page library.Page) ([]*store.WalletMovement, int, error) {
	m.LastPage = page
	return m.MovementRows, len(m.MovementRows), nil
}

func (m *MockService) Jobs(_ context.Context, _ store.JobFilter, page library.Page) ([]*store.Job, int, error) {
	m.LastPage = page
	return m.JobRows, len(m.JobRows), nil
}

func (m *MockService) Events(_ context.Context, _ string, page library.Page) ([]*store.Event, int, error) {
	m.LastPage = page
	return m.EventRows, len(m.EventRows), nil
}

func (m *MockService) Emails(_ context.Context, page library.Page) ([]*store.SimulatedEmail, int, error) {
	m.LastPage = page
	return m.EmailRows, len(m.EmailRows), nil
}

// MockIdemStore implements library.IdempotencyStore with an in-memory map.
// Use the *Err fields to inject failures for specific operations.
type MockIdemStore struct {
	ResolveErr error
	GetErr     error
	PutErr     error
	DeleteErr  error

	Users map[string]*store.User
	Cells map[string]*store.IdempotencyKey

	mu sync.Mutex
}

// NewMockIdemStore returns an empty, ready-to-use mock.
func NewMockIdemStore() *MockIdemStore {
	return &MockIdemStore{
		Users: make(map[string]*store.User),
		Cells: make(map[string]*store.IdempotencyKey),
	}
}

func cellKey(key string, userID uuid.UUID, endpoint string) string {
	return key + "|" + userID.String() + "|" + endpoint
}

func (m *MockIdemStore) ResolveUser(_ context.Context, email string) (*store.User, error) {
	if m.ResolveErr != nil {
		return nil, m.ResolveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[email]; ok {
		return u, nil
	}
	id, _ := uuid.NewV7()
	u := &store.User{ID: id, Email: email, CreatedAt: time.Now()}
	m.Users[email] = u
	return u, nil
}

func (m *MockIdemStore) IdempotencyGet(_ context.Context, key string, userID uuid.UUID, endpoint string) (*store.IdempotencyKey, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Cells[cellKey(key, userID, endpoint)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rec, nil
}

func (m *MockIdemStore) IdempotencyPut(_ context.Context, rec *store.IdempotencyKey) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := cellKey(rec.Key, rec.UserID, rec.Endpoint)
	if _, exists := m.Cells[k]; !exists {
		m.Cells[k] = rec
	}
	return nil
}

func (m *MockIdemStore) IdempotencyDelete(_ context.Context, key string, userID uuid.UUID, endpoint string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Cells, cellKey(key, userID, endpoint))
	return nil
}

// MockLimiter implements library.RateLimiter, returning Err on every call.
type MockLimiter struct {
	Err   error
	Calls int
	Keys  []string
}

func (m *MockLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.Calls++
	m.Keys = append(m.Keys, key)
	return m.Err
}
