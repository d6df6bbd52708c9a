package api

import (
	"fmt"
	"net/http"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// PurchaseDTO adds what was actually credited to a purchase row.
type PurchaseDTO struct {
	TransactionDTO
	Credited int64 `json:"credited"`
}

// CreateTransaction records a purchase or an adjustment.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	ctx := r.Context()
	customer := ledger.AccountRef{Utorid: req.Utorid}

	switch req.Type {
	case "purchase":
		res, err := h.Engine.Purchase(ctx, caller, ledger.PurchaseInput{
			Customer:     customer,
			Spent:        *req.Spent,
			PromotionIDs: req.PromotionIDs,
			Remark:       req.Remark,
		})
		if err != nil {
			h.writeLedgerError(w, "purchase", err)
			return
		}
		metrics.RecordTransaction(&res.Transaction)
		dto := toTransactionDTO(&res.Transaction, caller, h.utorids(ctx))
		earned := res.Earned
		dto.Earned = &earned
		h.ok(w, "purchase", http.StatusCreated, PurchaseDTO{TransactionDTO: dto, Credited: res.Credited})

	case "adjustment":
		tx, err := h.Engine.Adjust(ctx, caller, ledger.AdjustInput{
			Target:       customer,
			Amount:       *req.Amount,
			RelatedID:    *req.RelatedID,
			PromotionIDs: req.PromotionIDs,
			Remark:       req.Remark,
		})
		if err != nil {
			h.writeLedgerError(w, "adjustment", err)
			return
		}
		metrics.RecordTransaction(tx)
		h.ok(w, "adjustment", http.StatusCreated, toTransactionDTO(tx, caller, h.utorids(ctx)))

	default:
		writeError(w, http.StatusBadRequest, "Invalid request body", fmt.Errorf("%w: unsupported type %q", errBadRequest, req.Type))
	}
}

// GetTransaction returns one row. Managers and above.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller := actor(r)
	tx, err := h.Engine.GetTransaction(r.Context(), caller, id)
	if err != nil {
		h.writeLedgerError(w, "get_transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx, caller, h.utorids(r.Context())))
}

// SetSuspicious flags or clears a row and moves the owner's balance by the
// change in the row's effect.
// PATCH /api/transactions/{id}/suspicious
func (h *Handler) SetSuspicious(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SuspiciousRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	tx, err := h.Engine.SetSuspicious(r.Context(), caller, id, *req.Suspicious)
	if err != nil {
		h.writeLedgerError(w, "set_suspicious", err)
		return
	}
	h.ok(w, "set_suspicious", http.StatusOK, toTransactionDTO(tx, caller, h.utorids(r.Context())))
}

// ProcessRedemption completes a pending redemption.
// PATCH /api/transactions/{id}/processed
func (h *Handler) ProcessRedemption(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ProcessedRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	tx, err := h.Engine.ProcessRedemption(r.Context(), caller, id)
	if err != nil {
		h.writeLedgerError(w, "process_redemption", err)
		return
	}
	metrics.RecordTransaction(tx)
	h.ok(w, "process_redemption", http.StatusOK, toTransactionDTO(tx, caller, h.utorids(r.Context())))
}
