/*
handlers.go - HTTP API handlers for the rewards points engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response and JSON
  serialization, delegates everything else to the ledger, the purchase
  coordinator, and the reporter.

ENDPOINTS:
  Accounts:
    POST /api/accounts                                     Open account
    GET  /api/sponsors/{sid}/drivers/{uid}/balance         Cached balance
    GET  /api/sponsors/{sid}/drivers/{uid}/transactions    Ledger history
    POST /api/sponsors/{sid}/drivers/{uid}/transactions    Credit/debit

  Purchases:
    POST /api/purchases                 Create purchase
    GET  /api/purchases/{id}            Purchase with line items
    POST /api/purchases/{id}/cancel     Cancel (no points back)
    POST /api/purchases/{id}/refund     Refund (points restored)

  Admin/reporting:
    POST /api/admin/reconcile           Manual reconcile for one account
    GET  /api/reports/sponsors/{sid}/summary
    GET  /api/audit                     Audit query (driver/category filters)

ERROR HANDLING:
  Taxonomy errors map to HTTP status:
  - 404: AccountNotFound, NotFound
  - 409: InsufficientBalance, InvalidState, ProductUnavailable, AccountExists
  - 400: Malformed input
  - 503: TransientFailure
  - 500: Everything else

SECURITY NOTE:
  No authentication middleware. Session handling is owned by the outer
  application, not this engine.

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/rewards-engine/ledger"
	"github.com/warp/rewards-engine/purchase"
	"github.com/warp/rewards-engine/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.TransactionLedger
	Purchases *purchase.Coordinator
	Reporter  *reporting.Reporter
	Store     ledger.TxStore
}

// NewHandler wires the handler over the engine components.
func NewHandler(l *ledger.TransactionLedger, pc *purchase.Coordinator, r *reporting.Reporter, store ledger.TxStore) *Handler {
	return &Handler{Ledger: l, Purchases: pc, Reporter: r, Store: store}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a (driver, sponsor) account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SponsorID == "" || req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "sponsor_id and driver_id are required", nil)
		return
	}

	pointValue := decimal.Zero
	if req.PointValue != "" {
		var err error
		pointValue, err = decimal.NewFromString(req.PointValue)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid point_value", err)
			return
		}
	}

	err := h.Ledger.CreateAccount(r.Context(), ledger.SponsorID(req.SponsorID), ledger.DriverID(req.DriverID), pointValue)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"sponsor_id": req.SponsorID,
		"driver_id":  req.DriverID,
	})
}

// GetBalance returns the cached balance with cash value.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	sponsorID := ledger.SponsorID(chi.URLParam(r, "sid"))
	driverID := ledger.DriverID(chi.URLParam(r, "uid"))

	stmt, err := h.Reporter.Statement(r.Context(), sponsorID, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		SponsorID:      string(sponsorID),
		DriverID:       string(driverID),
		Points:         stmt.Balance,
		CashValue:      stmt.CashValue.StringFixed(2),
		MilestoneLevel: stmt.MilestoneLevel,
	})
}

// GetTransactions returns the ledger history for an account.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	sponsorID := ledger.SponsorID(chi.URLParam(r, "sid"))
	driverID := ledger.DriverID(chi.URLParam(r, "uid"))

	stmt, err := h.Reporter.Statement(r.Context(), sponsorID, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(stmt.Transactions))
	for i, tx := range stmt.Transactions {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordTransaction applies an admin credit or debit.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	sponsorID := ledger.SponsorID(chi.URLParam(r, "sid"))
	driverID := ledger.DriverID(chi.URLParam(r, "uid"))

	var req RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Points == 0 {
		writeError(w, http.StatusBadRequest, "points must be non-zero", nil)
		return
	}

	action := ledger.ActionCredit
	if req.Points < 0 {
		action = ledger.ActionDebit
	}

	txID, err := h.Ledger.RecordTransaction(r.Context(), sponsorID, driverID, req.Points, req.Reason, action)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"transaction_id": string(txID)})
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// CreatePurchase redeems points for a catalog product.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SponsorID == "" || req.DriverID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "sponsor_id, driver_id and product_id are required", nil)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	purchaseID, err := h.Purchases.CreatePurchase(r.Context(),
		ledger.DriverID(req.DriverID), ledger.SponsorID(req.SponsorID), req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"purchase_id": string(purchaseID)})
}

// GetPurchase returns a purchase with its line item snapshots.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID := ledger.PurchaseID(chi.URLParam(r, "id"))
	driverID := ledger.DriverID(r.URL.Query().Get("driver_id"))

	p, items, err := h.Purchases.GetPurchase(r.Context(), purchaseID, driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseDTO(*p, items))
}

// CancelPurchase moves an ordered purchase to cancelled. No points return.
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	h.terminatePurchase(w, r, false)
}

// RefundPurchase moves an ordered purchase to refunded and restores points.
func (h *Handler) RefundPurchase(w http.ResponseWriter, r *http.Request) {
	h.terminatePurchase(w, r, true)
}

func (h *Handler) terminatePurchase(w http.ResponseWriter, r *http.Request, refund bool) {
	purchaseID := ledger.PurchaseID(chi.URLParam(r, "id"))

	var req CancelPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DriverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required", nil)
		return
	}

	err := h.Purchases.CancelOrRefund(r.Context(), purchaseID, ledger.DriverID(req.DriverID), refund)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := "cancelled"
	if refund {
		status = "refunded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"purchase_id": string(purchaseID), "status": status})
}

// =============================================================================
// ADMIN / REPORTING HANDLERS
// =============================================================================

// Reconcile rewrites one account's cached balance from history.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Ledger.Reconcile(r.Context(), ledger.SponsorID(req.SponsorID), ledger.DriverID(req.DriverID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconciled"})
}

// SponsorSummary returns the sponsor-level point flow report.
func (h *Handler) SponsorSummary(w http.ResponseWriter, r *http.Request) {
	sponsorID := ledger.SponsorID(chi.URLParam(r, "sid"))

	summary, err := h.Reporter.Summarize(r.Context(), sponsorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	liability, err := h.Reporter.OutstandingLiability(r.Context(), sponsorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SponsorSummaryDTO{
		SponsorID:            string(summary.SponsorID),
		PointsIssued:         summary.PointsIssued,
		PointsRedeemed:       summary.PointsRedeemed,
		OutstandingTotal:     summary.OutstandingTotal,
		OutstandingLiability: liability.StringFixed(2),
		DriverCount:          summary.DriverCount,
	})
}

// QueryAudit returns audit entries, newest first.
// Filters: ?driver_id= & ?category=
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	var filter ledger.AuditFilter
	if v := r.URL.Query().Get("driver_id"); v != "" {
		id := ledger.DriverID(v)
		filter.DriverID = &id
	}
	if v := r.URL.Query().Get("category"); v != "" {
		cat := ledger.AuditCategory(v)
		filter.Category = &cat
	}

	entries, err := h.Ledger.Audit.Query(r.Context(), h.Store, filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			LogID:         e.LogID,
			DriverID:      string(e.DriverID),
			Category:      string(e.Category),
			Action:        e.Action,
			ActionSuccess: e.ActionSuccess,
			Details:       e.Details,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "Invalid quantity", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusConflict, "Request rejected", err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Storage temporarily unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Operation timed out", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
