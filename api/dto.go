/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/rewards-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest opens an account when a driver's application to a
// sponsor is approved.
type CreateAccountRequest struct {
	SponsorID  string `json:"sponsor_id"`
	DriverID   string `json:"driver_id"`
	PointValue string `json:"point_value"` // decimal, dollars per point
}

// RecordTransactionRequest is an admin credit or debit.
type RecordTransactionRequest struct {
	Points int64  `json:"points"` // signed: positive credits, negative debits
	Reason string `json:"reason"`
}

// CreatePurchaseRequest redeems points for a catalog product.
type CreatePurchaseRequest struct {
	SponsorID string `json:"sponsor_id"`
	DriverID  string `json:"driver_id"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"` // defaults to 1
}

// CancelPurchaseRequest identifies the caller for cancel/refund.
type CancelPurchaseRequest struct {
	DriverID string `json:"driver_id"`
}

// ReconcileRequest triggers a manual reconcile for one account.
type ReconcileRequest struct {
	SponsorID string `json:"sponsor_id"`
	DriverID  string `json:"driver_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is the cached balance with its cash value.
type BalanceDTO struct {
	SponsorID      string `json:"sponsor_id"`
	DriverID       string `json:"driver_id"`
	Points         int64  `json:"points"`
	CashValue      string `json:"cash_value"`
	MilestoneLevel int    `json:"milestone_level"`
}

// TransactionDTO is one ledger entry.
type TransactionDTO struct {
	ID            string `json:"id"`
	SponsorID     string `json:"sponsor_id"`
	DriverID      string `json:"driver_id"`
	PointsChanged int64  `json:"points_changed"`
	Reason        string `json:"reason"`
	ActionType    string `json:"action_type"`
	CreatedAt     string `json:"created_at"`
}

func toTransactionDTO(tx ledger.PointTransaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(tx.ID),
		SponsorID:     string(tx.SponsorID),
		DriverID:      string(tx.DriverID),
		PointsChanged: tx.PointsChanged,
		Reason:        tx.Reason,
		ActionType:    string(tx.ActionType),
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
}

// PurchaseDTO is a purchase with its line item snapshots.
type PurchaseDTO struct {
	ID               string        `json:"id"`
	SponsorID        string        `json:"sponsor_id"`
	DriverID         string        `json:"driver_id"`
	TotalPointsSpent int64         `json:"total_points_spent"`
	Status           string        `json:"status"`
	PurchaseDate     string        `json:"purchase_date"`
	LineItems        []LineItemDTO `json:"line_items,omitempty"`
}

// LineItemDTO is one price/quantity snapshot.
type LineItemDTO struct {
	ProductID          string `json:"product_id"`
	PurchasedUnitPrice int64  `json:"purchased_unit_price"`
	PointsSpent        int64  `json:"points_spent"`
	Quantity           int64  `json:"quantity"`
}

func toPurchaseDTO(p ledger.Purchase, items []ledger.PurchaseLineItem) PurchaseDTO {
	dto := PurchaseDTO{
		ID:               string(p.ID),
		SponsorID:        string(p.SponsorID),
		DriverID:         string(p.DriverID),
		TotalPointsSpent: p.TotalPointsSpent,
		Status:           string(p.Status),
		PurchaseDate:     p.PurchaseDate.Format(time.RFC3339),
	}
	for _, item := range items {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			ProductID:          item.ProductID,
			PurchasedUnitPrice: item.PurchasedUnitPrice,
			PointsSpent:        item.PointsSpent,
			Quantity:           item.Quantity,
		})
	}
	return dto
}

// AuditEntryDTO is one audit trail entry.
type AuditEntryDTO struct {
	LogID         string              `json:"log_id"`
	DriverID      string              `json:"driver_id"`
	Category      string              `json:"category"`
	Action        string              `json:"action"`
	ActionSuccess bool                `json:"action_success"`
	Details       ledger.AuditDetails `json:"details"`
	CreatedAt     string              `json:"created_at"`
}

// SponsorSummaryDTO is the sponsor-level report.
type SponsorSummaryDTO struct {
	SponsorID            string `json:"sponsor_id"`
	PointsIssued         int64  `json:"points_issued"`
	PointsRedeemed       int64  `json:"points_redeemed"`
	OutstandingTotal     int64  `json:"outstanding_total"`
	OutstandingLiability string `json:"outstanding_liability"` // dollars
	DriverCount          int    `json:"driver_count"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
