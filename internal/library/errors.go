// errors.go -- domain errors with their HTTP disposition.
//
// Engines return these instead of raising through panics or ad-hoc strings;
// the handler layer maps Code/Status into the JSON error envelope. Anything
// that is not an *Error (and not a serialization conflict) becomes a 500.
package library

import "net/http"

// Error is a domain failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrBookNotFound     = &Error{"BOOK_NOT_FOUND", "book not found", http.StatusNotFound}
	ErrBorrowNotFound   = &Error{"BORROW_NOT_FOUND", "no borrow found for this user and book", http.StatusNotFound}
	ErrPurchaseNotFound = &Error{"PURCHASE_NOT_FOUND", "purchase not found", http.StatusNotFound}
	ErrUserNotFound     = &Error{"USER_NOT_FOUND", "user not found", http.StatusNotFound}

	ErrNoCopiesAvailable     = &Error{"NO_COPIES_AVAILABLE", "no copies of this book are available", http.StatusConflict}
	ErrBorrowLimitExceeded   = &Error{"BORROW_LIMIT_EXCEEDED", "active borrow limit reached", http.StatusConflict}
	ErrBookBuyLimitExceeded  = &Error{"BOOK_BUY_LIMIT_EXCEEDED", "purchase limit for this book reached", http.StatusConflict}
	ErrTotalBuyLimitExceeded = &Error{"TOTAL_BUY_LIMIT_EXCEEDED", "total purchase limit reached", http.StatusConflict}

	ErrCancellationWindowExpired = &Error{"CANCELLATION_WINDOW_EXPIRED", "the cancellation window has expired", http.StatusBadRequest}
	ErrUserEmailRequired         = &Error{"USER_EMAIL_REQUIRED", "the X-User-Email header is required", http.StatusBadRequest}
	ErrIdempotencyKeyRequired    = &Error{"IDEMPOTENCY_KEY_REQUIRED", "the X-Idempotency-Key header is required", http.StatusBadRequest}
	ErrInvalidEmail              = &Error{"INVALID_EMAIL", "the provided email address is not valid", http.StatusBadRequest}
	ErrInvalidISBN               = &Error{"INVALID_ISBN", "the provided isbn is not valid", http.StatusBadRequest}

	ErrForbidden   = &Error{"FORBIDDEN", "admin access required", http.StatusForbidden}
	ErrRateLimited = &Error{"RATE_LIMITED", "too many requests, slow down", http.StatusTooManyRequests}
)
