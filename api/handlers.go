/*
handlers.go - HTTP API handlers for the loyalty ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to ledger.Engine.

ENDPOINTS:
  Users:
    POST   /api/users                      Register (cashier+)
    GET    /api/users/me                   Current account
    GET    /api/users/me/transactions      Own ledger rows
    POST   /api/users/me/transactions      Request a redemption
    GET    /api/users/{id}                 Account by id (cashier+)
    PATCH  /api/users/{id}                 Flags, role, email (manager+)
    GET    /api/users/{id}/audit           Replay vs stored balance (manager+)
    POST   /api/users/{id}/transactions    Transfer to user {id}

  Transactions:
    POST   /api/transactions               Purchase (cashier+) or adjustment (manager+)
    GET    /api/transactions/{id}          Row by id (manager+)
    PATCH  /api/transactions/{id}/suspicious
    PATCH  /api/transactions/{id}/processed

  Events:
    POST   /api/events                     Create (manager+)
    GET    /api/events/{id}                Unpublished: members and managers only
    PATCH  /api/events/{id}                Edit (manager or organizer); points and published (manager+)
    DELETE /api/events/{id}                Unpublished, nothing awarded (manager+)
    POST   /api/events/{id}/organizers     (manager+)
    DELETE /api/events/{id}/organizers/{userId} (manager+)
    POST   /api/events/{id}/guests         (manager or organizer)
    POST   /api/events/{id}/guests/me      Join
    DELETE /api/events/{id}/guests/me      Leave
    POST   /api/events/{id}/transactions   Award points (manager or organizer)

  Analytics:
    GET    /api/analytics                  Ledger totals (manager+)

  Promotions:
    POST   /api/promotions                 (manager+)
    GET    /api/promotions                 Managers see all, others see usable
    GET    /api/promotions/{id}
    PATCH  /api/promotions/{id}            (manager+, before start)
    DELETE /api/promotions/{id}            (manager+, before start)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: every ledger operation
  - Log: request-scoped logging
  - validate: request shape validation

ERROR HANDLING:
  writeLedgerError maps ledger.Kind to HTTP status:
  - 400: validation and business-rule failures
  - 403: role not permitted
  - 404: resource not found
  - 429: throttled (middleware)
  - 500: internal errors (details withheld)
  - 503: database busy, safe to retry

SEE ALSO:
  - dto.go: Request/response data structures and projections
  - server.go: Router setup and middleware
  - auth.go: Bearer token verification
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *ledger.Engine
	Promotions *factory.PromotionFactory
	Log        logrus.FieldLogger

	validate *validator.Validate
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *ledger.Engine, log logrus.FieldLogger) *Handler {
	return &Handler{
		Engine:     engine,
		Promotions: factory.NewPromotionFactory(),
		Log:        log,
		validate:   validator.New(),
	}
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

var errBadRequest = errors.New("invalid request")

// decode reads a JSON body into dst and validates its tags. On failure it
// writes the 400 response itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, ValidationError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Message: validationMessage(fe),
			})
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Kind:   string(ledger.KindValidation),
			Fields: fields,
		})
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "min", "max":
		return fe.Field() + " length is out of range"
	case "gtfield":
		return fe.Field() + " must be after " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// pathID parses the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return pathParam(w, r, "id")
}

// pathParam parses the named URL parameter as a positive ID.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name))
		return 0, false
	}
	return id, true
}

// utorids returns a memoizing ID -> utorid resolver for one response.
func (h *Handler) utorids(ctx context.Context) names {
	cache := make(map[int64]string)
	return func(id int64) string {
		if u, ok := cache[id]; ok {
			return u
		}
		a, err := h.Engine.GetAccount(ctx, id)
		if err != nil {
			return ""
		}
		cache[id] = a.Utorid
		return a.Utorid
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation, ledger.KindRule:
		return http.StatusBadRequest
	case ledger.KindPermission:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError renders an engine error. Internal details stay in the log.
func (h *Handler) writeLedgerError(w http.ResponseWriter, op string, err error) {
	metrics.ObserveOperation(op, err)
	kind := ledger.KindOf(err)
	status := statusFor(kind)
	if ledger.IsRetryable(err) {
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}
	resp := ErrorResponse{Error: http.StatusText(status), Kind: string(kind)}
	if kind == ledger.KindInternal {
		h.Log.WithError(err).WithField("op", op).Error("request failed")
	} else {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// ok records a successful engine call and writes the response.
func (h *Handler) ok(w http.ResponseWriter, op string, status int, data any) {
	metrics.ObserveOperation(op, nil)
	writeJSON(w, status, data)
}
