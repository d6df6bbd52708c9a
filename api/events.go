package api

import (
	"net/http"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// CreateEvent creates an event with its points pool.
// POST /api/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	ev, err := h.Engine.CreateEvent(r.Context(), caller, ledger.Event{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		Capacity:    req.Capacity,
		Points:      req.Points,
	})
	if err != nil {
		h.writeLedgerError(w, "create_event", err)
		return
	}
	h.ok(w, "create_event", http.StatusCreated, toEventDTO(ev, nil, caller))
}

// GetEvent returns an event. Unpublished events are 404 for callers who
// are not managers, organizers or guests. Pool counters are manager-only.
// GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller := actor(r)
	ev, organizers, err := h.Engine.GetEvent(r.Context(), caller, id)
	if err != nil {
		h.writeLedgerError(w, "get_event", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev, organizers, caller))
}

// UpdateEvent edits the event's details, budget or publication.
// PATCH /api/events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	ev, err := h.Engine.UpdateEvent(r.Context(), caller, id, req.patch())
	if err != nil {
		h.writeLedgerError(w, "update_event", err)
		return
	}
	_, organizers, err := h.Engine.GetEvent(r.Context(), caller, id)
	if err != nil {
		h.writeLedgerError(w, "get_event", err)
		return
	}
	h.ok(w, "update_event", http.StatusOK, toEventDTO(ev, organizers, caller))
}

// DeleteEvent removes an unpublished event.
// DELETE /api/events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteEvent(r.Context(), actor(r), id); err != nil {
		h.writeLedgerError(w, "delete_event", err)
		return
	}
	metrics.ObserveOperation("delete_event", nil)
	w.WriteHeader(http.StatusNoContent)
}

// AddOrganizer makes a user an organizer of the event.
// POST /api/events/{id}/organizers
func (h *Handler) AddOrganizer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req MemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	acct, err := h.Engine.AddOrganizer(r.Context(), caller, id, ledger.AccountRef{Utorid: req.Utorid})
	if err != nil {
		h.writeLedgerError(w, "add_organizer", err)
		return
	}
	h.ok(w, "add_organizer", http.StatusCreated, toUserDTO(acct, caller))
}

// RemoveOrganizer takes a user off the organizer list.
// DELETE /api/events/{id}/organizers/{userId}
func (h *Handler) RemoveOrganizer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, ok := pathParam(w, r, "userId")
	if !ok {
		return
	}
	if err := h.Engine.RemoveOrganizer(r.Context(), actor(r), id, userID); err != nil {
		h.writeLedgerError(w, "remove_organizer", err)
		return
	}
	metrics.ObserveOperation("remove_organizer", nil)
	w.WriteHeader(http.StatusNoContent)
}

// AddGuest puts a user on the guest list.
// POST /api/events/{id}/guests
func (h *Handler) AddGuest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req MemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	acct, err := h.Engine.AddGuest(r.Context(), caller, id, ledger.AccountRef{Utorid: req.Utorid})
	if err != nil {
		h.writeLedgerError(w, "add_guest", err)
		return
	}
	h.ok(w, "add_guest", http.StatusCreated, toUserDTO(acct, caller))
}

// JoinEvent adds the caller as a guest.
// POST /api/events/{id}/guests/me
func (h *Handler) JoinEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.JoinEvent(r.Context(), actor(r), id); err != nil {
		h.writeLedgerError(w, "join_event", err)
		return
	}
	metrics.ObserveOperation("join_event", nil)
	w.WriteHeader(http.StatusNoContent)
}

// LeaveEvent removes the caller from the guest list.
// DELETE /api/events/{id}/guests/me
func (h *Handler) LeaveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Engine.LeaveEvent(r.Context(), actor(r), id); err != nil {
		h.writeLedgerError(w, "leave_event", err)
		return
	}
	metrics.ObserveOperation("leave_event", nil)
	w.WriteHeader(http.StatusNoContent)
}

// AwardEvent credits points from the pool. An empty utorid awards every
// guest the same amount.
// POST /api/events/{id}/transactions
func (h *Handler) AwardEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AwardRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := ledger.AwardInput{
		Points: req.Amount,
		Remark: req.Remark,
	}
	if req.Utorid == "" {
		in.All = true
	} else {
		in.Recipient = ledger.AccountRef{Utorid: req.Utorid}
	}

	caller := actor(r)
	txs, err := h.Engine.AwardEvent(r.Context(), caller, id, in)
	if err != nil {
		h.writeLedgerError(w, "award_event", err)
		return
	}
	utorid := h.utorids(r.Context())
	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		metrics.RecordTransaction(&txs[i])
		dtos[i] = toTransactionDTO(&txs[i], caller, utorid)
	}
	h.ok(w, "award_event", http.StatusCreated, dtos)
}
