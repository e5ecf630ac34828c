// handler.go -- HTTP handlers for the public and admin endpoints.
package library

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/money"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// LibraryService defines the engine operations handlers need.
// Satisfied by *Service — defined here (at consumer) per Go convention.
type LibraryService interface {
	Borrow(ctx context.Context, userEmail, isbn string) (*BorrowResult, error)
	Return(ctx context.Context, userEmail, isbn string) (*BorrowResult, error)
	Buy(ctx context.Context, userEmail, isbn string) (*PurchaseResult, error)
	Cancel(ctx context.Context, userEmail string, purchaseID uuid.UUID) (*PurchaseResult, error)

	SearchBooks(ctx context.Context, filter store.BookFilter, page Page) ([]*store.Book, int, error)
	Wallet(ctx context.Context) (*WalletSummary, error)
	Movements(ctx context.Context, filter store.MovementFilter, page Page) ([]*store.WalletMovement, int, error)
	Jobs(ctx context.Context, filter store.JobFilter, page Page) ([]*store.Job, int, error)
	Events(ctx context.Context, eventType string, page Page) ([]*store.Event, int, error)
	Emails(ctx context.Context, page Page) ([]*store.SimulatedEmail, int, error)
}

// RateLimiter checks and records rate limit state for a key and policy.
// Satisfied by *store.RedisRateLimiter; nil disables limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

var (
	_ LibraryService   = (*Service)(nil)
	_ IdempotencyStore = (*Service)(nil)
	_ RateLimiter      = (*store.RedisRateLimiter)(nil)
)

// Handler holds dependencies for all HTTP handlers and middleware.
type Handler struct {
	Svc  LibraryService
	Idem IdempotencyStore
	// RL may be nil (limiter disabled). Policy applies per user email on
	// the four mutating endpoints.
	RL       RateLimiter
	RLPolicy store.RateLimit

	// Now is swappable in tests; defaults to time.Now via NewHandler.
	Now func() time.Time
}

// NewHandler wires a Handler around the service. limiter may be nil.
func NewHandler(svc *Service, limiter RateLimiter, policy store.RateLimit) *Handler {
	return &Handler{Svc: svc, Idem: svc, RL: limiter, RLPolicy: policy, Now: time.Now}
}

// contextKey is unexported to prevent collisions with other packages.
type contextKey string

const userEmailKey contextKey = "user_email"

// userEmailFromContext retrieves the identified caller set by RequireUser.
func userEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(userEmailKey).(string)
	return email, ok
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// isbnPattern matches the UUID-shaped ISBNs this catalog uses.
var isbnPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// RequireUser validates the X-User-Email header and injects the caller's
// email into the request context. 400 on missing or malformed values.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.Header.Get("X-User-Email")
		if email == "" {
			writeAPIError(w, r, ErrUserEmailRequired)
			return
		}
		if !emailPattern.MatchString(email) {
			writeAPIError(w, r, ErrInvalidEmail)
			return
		}
		ctx := context.WithValue(r.Context(), userEmailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates the admin surface on the literal admin identity.
// Run after RequireUser.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := userEmailFromContext(r.Context())
		if !ok || email != AdminEmail {
			writeAPIError(w, r, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies the per-email policy on mutating endpoints. A Redis
// failure counts as allow: availability over throttling.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.RL == nil {
			next.ServeHTTP(w, r)
			return
		}
		email, ok := userEmailFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if err := h.RL.Allow(r.Context(), email, h.RLPolicy); err != nil {
			if errors.Is(err, store.ErrRateLimited) {
				writeAPIError(w, r, ErrRateLimited)
				return
			}
			logWarn(r, "rate limiter unavailable, allowing request", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// parsePage reads page/pageSize query params with clamped defaults:
// page ≥ 1 (default 1), pageSize in [1,100] (default 10).
func parsePage(r *http.Request) Page {
	page := Page{Number: 1, Size: 10}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v >= 1 {
		page.Number = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v >= 1 {
		if v > 100 {
			v = 100
		}
		page.Size = v
	}
	return page
}

// isbnParam validates the :isbn path parameter.
func isbnParam(r *http.Request) (string, *Error) {
	isbn := chi.URLParam(r, "isbn")
	if !isbnPattern.MatchString(isbn) {
		return "", ErrInvalidISBN
	}
	return isbn, nil
}

// ListBooks handles GET /api/books.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.BookFilter{
		Title:  query.Get("title"),
		Author: query.Get("author"),
		Genre:  query.Get("genre"),
	}
	page := parsePage(r)
	books, total, err := h.Svc.SearchBooks(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]bookDTO, 0, len(books))
	for _, b := range books {
		data = append(data, toBookDTO(b))
	}
	writeJSON(w, r, http.StatusOK, listBody{Data: data, Pagination: paginate(total, page)})
}

// BorrowBook handles POST /api/books/{isbn}/borrow.
func (h *Handler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	email, _ := userEmailFromContext(r.Context())
	isbn, apiErr := isbnParam(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	res, err := h.Svc.Borrow(r.Context(), email, isbn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "borrow", "isbn", isbn, "existing", res.IsExisting)
	writeJSON(w, r, http.StatusOK, toBorrowDTO(res))
}

// ReturnBook handles POST /api/books/{isbn}/return.
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	email, _ := userEmailFromContext(r.Context())
	isbn, apiErr := isbnParam(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	res, err := h.Svc.Return(r.Context(), email, isbn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "return", "isbn", isbn, "existing", res.IsExisting)
	writeJSON(w, r, http.StatusOK, toBorrowDTO(res))
}

// BuyBook handles POST /api/books/{isbn}/buy. Wrapped by the idempotency
// middleware in the router; the key header is mandatory there.
func (h *Handler) BuyBook(w http.ResponseWriter, r *http.Request) {
	email, _ := userEmailFromContext(r.Context())
	isbn, apiErr := isbnParam(r)
	if apiErr != nil {
		writeAPIError(w, r, apiErr)
		return
	}
	res, err := h.Svc.Buy(r.Context(), email, isbn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logInfo(r, "buy", "isbn", isbn)
	writeJSON(w, r, http.StatusOK, toPurchaseDTO(res))
}

// CancelPurchase handles POST /api/purchases/{id}/cancel.
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	email, _ := userEmailFromContext(r.Context())
	purchaseID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, ErrPurchaseNotFound)
		return
	}
	res, svcErr := h.Svc.Cancel(r.Context(), email, purchaseID)
	if svcErr != nil {
		writeError(w, r, svcErr)
		return
	}
	logInfo(r, "cancel purchase", "purchase_id", purchaseID, "existing", res.IsExisting)
	writeJSON(w, r, http.StatusOK, toPurchaseDTO(res))
}

// AdminWallet handles GET /api/admin/wallet.
func (h *Handler) AdminWallet(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Svc.Wallet(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"balanceCents":     summary.BalanceCents,
		"balanceFormatted": money.FormatCents(summary.BalanceCents),
		"milestoneReached": summary.MilestoneReached,
	})
}

// AdminMovements handles GET /api/admin/wallet/movements.
// Filters: type=credit|debit, from/to as RFC3339.
func (h *Handler) AdminMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.MovementFilter{Direction: query.Get("type")}
	if v := query.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := query.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}
	page := parsePage(r)
	movements, total, err := h.Svc.Movements(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]movementDTO, 0, len(movements))
	for _, m := range movements {
		data = append(data, toMovementDTO(m))
	}
	writeJSON(w, r, http.StatusOK, listBody{Data: data, Pagination: paginate(total, page)})
}

// AdminJobs handles GET /api/admin/jobs. Filters: status, type.
func (h *Handler) AdminJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.JobFilter{Status: query.Get("status"), Type: query.Get("type")}
	page := parsePage(r)
	jobs, total, err := h.Svc.Jobs(r.Context(), filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		data = append(data, toJobDTO(j))
	}
	writeJSON(w, r, http.StatusOK, listBody{Data: data, Pagination: paginate(total, page)})
}

// AdminEvents handles GET /api/admin/events. Filter: type.
func (h *Handler) AdminEvents(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	events, total, err := h.Svc.Events(r.Context(), r.URL.Query().Get("type"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]eventDTO, 0, len(events))
	for _, e := range events {
		data = append(data, toEventDTO(e))
	}
	writeJSON(w, r, http.StatusOK, listBody{Data: data, Pagination: paginate(total, page)})
}

// AdminEmails handles GET /api/admin/emails.
func (h *Handler) AdminEmails(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	emails, total, err := h.Svc.Emails(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := make([]emailDTO, 0, len(emails))
	for _, e := range emails {
		data = append(data, toEmailDTO(e))
	}
	writeJSON(w, r, http.StatusOK, listBody{Data: data, Pagination: paginate(total, page)})
}
