// idempotency.go -- response-replay middleware for the buy endpoint.
//
// Flow: read X-Idempotency-Key (mandatory here), resolve the caller to a
// user row, look up the (key, user, endpoint) cell. A fresh cell replays the
// stored status and body verbatim; an expired cell is deleted and the
// request proceeds. After the handler runs with a status under 500 the
// response snapshot is stored for 24 hours. Storage failures are logged and
// ignored: availability over perfect idempotency.
package library

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Selim-Dev/kyra-llibrary-inventory-system/internal/store"
)

// IdempotencyTTL is how long a stored response replays before expiring.
const IdempotencyTTL = 24 * time.Hour

// IdempotencyStore defines the persistence the middleware needs.
// Satisfied by *Service — defined here (at consumer) per Go convention.
type IdempotencyStore interface {
	// ResolveUser upserts and returns the user for an email.
	ResolveUser(ctx context.Context, email string) (*store.User, error)

	// IdempotencyGet fetches a cell. Returns pgx.ErrNoRows if absent.
	IdempotencyGet(ctx context.Context, key string, userID uuid.UUID, endpoint string) (*store.IdempotencyKey, error)

	// IdempotencyPut stores a response snapshot; first writer wins.
	IdempotencyPut(ctx context.Context, rec *store.IdempotencyKey) error

	// IdempotencyDelete drops an expired cell.
	IdempotencyDelete(ctx context.Context, key string, userID uuid.UUID, endpoint string) error
}

// responseRecorder tees the handler's response so the middleware can store
// it after the fact. WriteHeader/Write pass through to the client.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	rec.body.Write(p)
	return rec.ResponseWriter.Write(p)
}

// Idempotent wraps next with key-based response replay for endpoint.
// Run after RequireUser.
func (h *Handler) Idempotent(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Idempotency-Key")
		if key == "" {
			writeAPIError(w, r, ErrIdempotencyKeyRequired)
			return
		}
		email, ok := userEmailFromContext(r.Context())
		if !ok {
			writeAPIError(w, r, ErrUserEmailRequired)
			return
		}
		user, err := h.Idem.ResolveUser(r.Context(), email)
		if err != nil {
			writeError(w, r, err)
			return
		}

		rec, err := h.Idem.IdempotencyGet(r.Context(), key, user.ID, endpoint)
		switch {
		case err == nil && rec.ExpiresAt.After(h.Now()):
			// Replay the stored response verbatim and short-circuit.
			logInfo(r, "idempotency replay", "endpoint", endpoint)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			w.Write(rec.Response)
			return
		case err == nil:
			// Expired: drop the cell and run the request fresh.
			if err := h.Idem.IdempotencyDelete(r.Context(), key, user.ID, endpoint); err != nil {
				logWarn(r, "deleting expired idempotency key failed", "error", err)
			}
		case !errors.Is(err, pgx.ErrNoRows):
			writeError(w, r, err)
			return
		}

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		if recorder.status >= http.StatusInternalServerError {
			return
		}
		putErr := h.Idem.IdempotencyPut(r.Context(), &store.IdempotencyKey{
			Key:        key,
			UserID:     user.ID,
			Endpoint:   endpoint,
			Response:   recorder.body.Bytes(),
			StatusCode: recorder.status,
			ExpiresAt:  h.Now().Add(IdempotencyTTL),
		})
		if putErr != nil {
			// The client already has its response; never fail the request here.
			logWarn(r, "storing idempotency key failed", "error", putErr)
		}
	}
}
