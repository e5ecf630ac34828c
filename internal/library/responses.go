// responses.go -- JSON response envelopes and DTO builders.
//
// Success bodies are built here so every money field ships both the integer
// cents and the formatted string. The error envelope is always
// {"error":{"code":...,"message":...}}.
package library

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/money"
	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// errorBody is the error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON serializes v with the given status. Encoding failures are logged;
// at that point the status line is already on the wire.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError(r, "encoding response failed", "error", err)
	}
}

// writeAPIError emits the error envelope for a known domain error.
func writeAPIError(w http.ResponseWriter, r *http.Request, apiErr *Error) {
	var body errorBody
	body.Error.Code = apiErr.Code
	body.Error.Message = apiErr.Message
	writeJSON(w, r, apiErr.Status, body)
}

// writeError maps any engine error onto the wire. Domain errors keep their
// code and status; serialization conflicts and everything else become a 500
// with no internal detail (clients retry 500s).
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		writeAPIError(w, r, apiErr)
		return
	}
	if errors.Is(err, store.ErrSerialization) {
		logWarn(r, "serialization conflict", "error", err)
	} else {
		logError(r, "internal server error", "error", err)
	}
	writeAPIError(w, r, &Error{Code: "INTERNAL_ERROR", Message: "internal server error", Status: http.StatusInternalServerError})
}

// pagination is the shared paging block of list responses.
type pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

func paginate(total int, page Page) pagination {
	totalPages := (total + page.Size - 1) / page.Size
	return pagination{Total: total, Page: page.Number, PageSize: page.Size, TotalPages: totalPages}
}

// listBody is the shared shape of paginated responses.
type listBody struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

type bookDTO struct {
	ID              string `json:"id"`
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre"`
	SellCents       int64  `json:"sellCents"`
	SellFormatted   string `json:"sellFormatted"`
	BorrowCents     int64  `json:"borrowCents"`
	BorrowFormatted string `json:"borrowFormatted"`
	StockCents      int64  `json:"stockCents"`
	StockFormatted  string `json:"stockFormatted"`
	AvailableCopies int    `json:"availableCopies"`
	SeededCopies    int    `json:"seededCopies"`
}

func toBookDTO(b *store.Book) bookDTO {
	return bookDTO{
		ID:              b.ID.String(),
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		SellCents:       b.SellCents,
		SellFormatted:   money.FormatCents(b.SellCents),
		BorrowCents:     b.BorrowCents,
		BorrowFormatted: money.FormatCents(b.BorrowCents),
		StockCents:      b.StockCents,
		StockFormatted:  money.FormatCents(b.StockCents),
		AvailableCopies: b.AvailableCopies,
		SeededCopies:    b.SeededCopies,
	}
}

type borrowDTO struct {
	ID         string     `json:"id"`
	BookID     string     `json:"bookId"`
	ISBN       string     `json:"isbn"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	BorrowedAt time.Time  `json:"borrowedAt"`
	DueAt      time.Time  `json:"dueAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	IsExisting bool       `json:"isExisting"`
}

func toBorrowDTO(res *BorrowResult) borrowDTO {
	return borrowDTO{
		ID:         res.Borrow.ID.String(),
		BookID:     res.Borrow.BookID.String(),
		ISBN:       res.Book.ISBN,
		Title:      res.Book.Title,
		Status:     res.Borrow.Status,
		BorrowedAt: res.Borrow.BorrowedAt,
		DueAt:      res.Borrow.DueAt,
		ReturnedAt: res.Borrow.ReturnedAt,
		IsExisting: res.IsExisting,
	}
}

type purchaseDTO struct {
	ID             string     `json:"id"`
	BookID         string     `json:"bookId"`
	ISBN           string     `json:"isbn"`
	Title          string     `json:"title"`
	PriceCents     int64      `json:"priceCents"`
	PriceFormatted string     `json:"priceFormatted"`
	Status         string     `json:"status"`
	PurchasedAt    time.Time  `json:"purchasedAt"`
	CanceledAt     *time.Time `json:"canceledAt,omitempty"`
	IsExisting     bool       `json:"isExisting"`
}

func toPurchaseDTO(res *PurchaseResult) purchaseDTO {
	return purchaseDTO{
		ID:             res.Purchase.ID.String(),
		BookID:         res.Purchase.BookID.String(),
		ISBN:           res.Book.ISBN,
		Title:          res.Book.Title,
		PriceCents:     res.Purchase.PriceCents,
		PriceFormatted: money.FormatCents(res.Purchase.PriceCents),
		Status:         res.Purchase.Status,
		PurchasedAt:    res.Purchase.PurchasedAt,
		CanceledAt:     res.Purchase.CanceledAt,
		IsExisting:     res.IsExisting,
	}
}

type movementDTO struct {
	ID              string    `json:"id"`
	AmountCents     int64     `json:"amountCents"`
	AmountFormatted string    `json:"amountFormatted"`
	Type            string    `json:"type"`
	Reason          string    `json:"reason"`
	RelatedEntity   *string   `json:"relatedEntity,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toMovementDTO(m *store.WalletMovement) movementDTO {
	return movementDTO{
		ID:              m.ID.String(),
		AmountCents:     m.AmountCents,
		AmountFormatted: money.FormatCents(m.AmountCents),
		Type:            m.Type,
		Reason:          m.Reason,
		RelatedEntity:   m.RelatedEntity,
		CreatedAt:       m.CreatedAt,
	}
}

type jobDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       time.Time       `json:"runAt"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LockedAt    *time.Time      `json:"lockedAt,omitempty"`
	LastError   *string         `json:"lastError,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ActiveKey   *string         `json:"activeKey,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func toJobDTO(j *store.Job) jobDTO {
	return jobDTO{
		ID:          j.ID.String(),
		Type:        j.Type,
		Status:      j.Status,
		Payload:     json.RawMessage(j.Payload),
		RunAt:       j.RunAt,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LockedAt:    j.LockedAt,
		LastError:   j.LastError,
		CompletedAt: j.CompletedAt,
		ActiveKey:   j.ActiveKey,
		CreatedAt:   j.CreatedAt,
	}
}

type eventDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata"`
	DedupeKey *string         `json:"dedupeKey,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toEventDTO(e *store.Event) eventDTO {
	return eventDTO{
		ID:        e.ID.String(),
		Type:      e.Type,
		Metadata:  json.RawMessage(e.Metadata),
		DedupeKey: e.DedupeKey,
		CreatedAt: e.CreatedAt,
	}
}

type emailDTO struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

func toEmailDTO(e *store.SimulatedEmail) emailDTO {
	return emailDTO{
		ID:        e.ID.String(),
		Recipient: e.Recipient,
		Subject:   e.Subject,
		Type:      e.Type,
		CreatedAt: e.CreatedAt,
	}
}
