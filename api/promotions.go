package api

import (
	"fmt"
	"net/http"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// PROMOTION HANDLERS
// =============================================================================

// CreatePromotion parses the factory wire format and creates the promotion.
// POST /api/promotions
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var req PromotionDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = 0
	promo, err := h.Promotions.FromJSON(req)
	if err != nil {
		h.writeLedgerError(w, "create_promotion", fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err))
		return
	}
	created, err := h.Engine.CreatePromotion(r.Context(), actor(r), *promo)
	if err != nil {
		h.writeLedgerError(w, "create_promotion", err)
		return
	}
	h.ok(w, "create_promotion", http.StatusCreated, h.Promotions.ToJSON(created))
}

// ListPromotions returns the full catalog to managers and the caller's
// usable promotions to everyone else.
// GET /api/promotions
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.Engine.ListPromotions(r.Context(), actor(r))
	if err != nil {
		h.writeLedgerError(w, "list_promotions", err)
		return
	}
	dtos := make([]PromotionDTO, len(promos))
	for i := range promos {
		dtos[i] = h.Promotions.ToJSON(&promos[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPromotion returns one promotion.
// GET /api/promotions/{id}
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	promo, err := h.Engine.GetPromotion(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "get_promotion", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Promotions.ToJSON(promo))
}

// UpdatePromotion edits a promotion that has not started.
// PATCH /api/promotions/{id}
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req PromotionPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := ledger.PromotionPatch{
		Name:        req.Name,
		Description: req.Description,
		MinSpending: req.MinSpending,
		Rate:        req.Rate,
		Points:      req.Points,
	}
	if req.StartTime != nil {
		t := req.StartTime.UTC()
		patch.StartTime = &t
	}
	if req.EndTime != nil {
		t := req.EndTime.UTC()
		patch.EndTime = &t
	}
	if req.Type != nil {
		kind, ok := ledger.ParsePromotionKind(*req.Type)
		if !ok {
			h.writeLedgerError(w, "update_promotion", fmt.Errorf("%w: unknown promotion type %q", ledger.ErrInvalidInput, *req.Type))
			return
		}
		patch.Kind = &kind
	}

	promo, err := h.Engine.UpdatePromotion(r.Context(), actor(r), id, patch)
	if err != nil {
		h.writeLedgerError(w, "update_promotion", err)
		return
	}
	h.ok(w, "update_promotion", http.StatusOK, h.Promotions.ToJSON(promo))
}

// DeletePromotion removes a promotion that has not started.
// DELETE /api/promotions/{id}
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeletePromotion(r.Context(), actor(r), id); err != nil {
		h.writeLedgerError(w, "delete_promotion", err)
		return
	}
	metrics.ObserveOperation("delete_promotion", nil)
	w.WriteHeader(http.StatusNoContent)
}
