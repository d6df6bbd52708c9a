package api

import (
	"net/http"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/metrics"
)

// =============================================================================
// USER HANDLERS
// =============================================================================

// Register creates a regular, unverified account.
// POST /api/users
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	acct, err := h.Engine.Register(r.Context(), caller, ledger.Account{
		Utorid: req.Utorid,
		Name:   req.Name,
		Email:  req.Email,
	})
	if err != nil {
		h.writeLedgerError(w, "register", err)
		return
	}
	h.ok(w, "register", http.StatusCreated, toUserDTO(acct, caller))
}

// Me returns the caller's account.
// GET /api/users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	acct, err := h.Engine.GetAccount(r.Context(), caller.ID)
	if err != nil {
		h.writeLedgerError(w, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(acct, caller))
}

// GetUser returns an account by id. Cashiers and above.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller := actor(r)
	if !caller.Role.AtLeast(ledger.RoleCashier) && caller.ID != id {
		h.writeLedgerError(w, "get_account", ledger.ErrForbidden)
		return
	}
	acct, err := h.Engine.GetAccount(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "get_account", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(acct, caller))
}

// UpdateUser applies a manager edit to flags, role or email.
// PATCH /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := ledger.AccountPatch{
		Email:      req.Email,
		Verified:   req.Verified,
		Suspicious: req.Suspicious,
	}
	if req.Role != nil {
		role := ledger.Role(*req.Role)
		patch.Role = &role
	}

	caller := actor(r)
	acct, err := h.Engine.UpdateAccount(r.Context(), caller, id, patch)
	if err != nil {
		h.writeLedgerError(w, "update_account", err)
		return
	}
	h.ok(w, "update_account", http.StatusOK, toUserDTO(acct, caller))
}

// AuditUser replays the account's ledger and compares it with the stored
// balance.
// GET /api/users/{id}/audit
func (h *Handler) AuditUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if !actor(r).Role.AtLeast(ledger.RoleManager) {
		h.writeLedgerError(w, "verify_balance", ledger.ErrForbidden)
		return
	}
	report, err := h.Engine.VerifyBalance(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, "verify_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceReportDTO(report))
}

// Analytics returns ledger-wide totals.
// GET /api/analytics
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Analytics(r.Context(), actor(r))
	if err != nil {
		h.writeLedgerError(w, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsDTO(a))
}

// MyTransactions lists the caller's ledger rows.
// GET /api/users/me/transactions
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	caller := actor(r)
	txs, err := h.Engine.UserTransactions(r.Context(), caller, caller.ID)
	if err != nil {
		h.writeLedgerError(w, "list_transactions", err)
		return
	}
	utorid := h.utorids(r.Context())
	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i], caller, utorid)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RequestRedemption records a pending redemption for the caller.
// POST /api/users/me/transactions
func (h *Handler) RequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req RedemptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	tx, err := h.Engine.RequestRedemption(r.Context(), caller, req.Amount, req.Remark)
	if err != nil {
		h.writeLedgerError(w, "request_redemption", err)
		return
	}
	h.ok(w, "request_redemption", http.StatusCreated, toTransactionDTO(tx, caller, h.utorids(r.Context())))
}

// Transfer moves points from the caller to user {id}. The response is the
// caller's outgoing row.
// POST /api/users/{id}/transactions
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	caller := actor(r)
	res, err := h.Engine.Transfer(r.Context(), caller, id, req.Amount, req.Remark)
	if err != nil {
		h.writeLedgerError(w, "transfer", err)
		return
	}
	metrics.RecordTransaction(&res.Sent)
	metrics.RecordTransaction(&res.Received)
	h.ok(w, "transfer", http.StatusCreated, toTransactionDTO(&res.Sent, caller, h.utorids(r.Context())))
}
