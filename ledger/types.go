/*
Package ledger is the core points engine for the driver rewards program.

PURPOSE:
  Drivers accumulate points under sponsor companies and redeem them for
  catalog products. This package owns the two pieces that actually have
  invariants: the append-only transaction ledger with its cached per-account
  balance, and the audit trail derived from every balance mutation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:          Cached balance for one (driver, sponsor) pair
  - PointTransaction: Immutable ledger entry, the source of truth for balance
  - Purchase:         Redemption of points, with a terminal-state lifecycle
  - PurchaseLineItem: Price/quantity snapshot taken at purchase time
  - AuditEntry:       Derived, append-only record of balance-affecting actions

DESIGN PRINCIPLES:
  1. Append-only: PointTransaction and AuditEntry are never updated or deleted
  2. Cached balance: Account.Points is a cache over the transaction sum;
     Reconcile rewrites it from history to correct drift
  3. No negative balances: every debit is validated before any write
  4. Strong typing: SponsorID and DriverID cannot be mixed up

SEE ALSO:
  - ledger.go:    TransactionLedger, the only mutation path for balances
  - audit.go:     AuditRecorder, invoked inside the same transaction
  - store.go:     Persistence interfaces
  - purchase/:    PurchaseCoordinator orchestrating redemption
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SponsorID string
type DriverID string
type TransactionID string
type PurchaseID string

// =============================================================================
// ACCOUNT - Cached balance for one (driver, sponsor) pair
// =============================================================================

// Account holds the cached point balance for a driver under a sponsor.
// Created when the driver's application to the sponsor is approved; never
// deleted while the relationship exists.
//
// INVARIANT: Points >= 0 at every committed state, and after Reconcile,
// Points equals the sum of PointsChanged over the account's transactions.
//
// Points is mutated ONLY through TransactionLedger. Anything else writing
// this field is a bug.
type Account struct {
	DriverID  DriverID
	SponsorID SponsorID

	// Points is the cached balance. Source of truth is the transaction log.
	Points int64

	// MilestoneLevel tracks lifetime achievement tiers. It only ever goes up:
	// spending points does not take a level away.
	MilestoneLevel int

	// PointValue is the cash value of a single point under this sponsor,
	// in dollars. Used by reporting only; the ledger itself deals in points.
	PointValue decimal.Decimal

	CreatedAt time.Time
}

// CashValue returns the dollar value of the current balance.
func (a *Account) CashValue() decimal.Decimal {
	return a.PointValue.Mul(decimal.NewFromInt(a.Points))
}

// Milestone thresholds on lifetime credited points.
var milestoneThresholds = []int64{0, 1000, 5000, 20000, 100000}

// MilestoneForCredits returns the milestone level for a lifetime credit total.
func MilestoneForCredits(lifetimeCredits int64) int {
	level := 0
	for i, threshold := range milestoneThresholds {
		if lifetimeCredits >= threshold {
			level = i
		}
	}
	return level
}

// =============================================================================
// POINT TRANSACTION - Immutable ledger entry
// =============================================================================

// ActionType classifies why a transaction changed a balance.
type ActionType string

const (
	ActionCredit   ActionType = "credit"   // Sponsor-issued points (good driving, bonus)
	ActionDebit    ActionType = "debit"    // Admin-issued deduction
	ActionPurchase ActionType = "purchase" // Redemption through PurchaseCoordinator
	ActionRefund   ActionType = "refund"   // Refund of a purchase
)

// PointTransaction is one entry in the append-only ledger.
// Once written it is NEVER updated or deleted. Corrections happen by
// appending a compensating transaction (e.g. a refund).
type PointTransaction struct {
	ID        TransactionID
	SponsorID SponsorID
	DriverID  DriverID

	// PointsChanged is signed: positive credits, negative debits.
	PointsChanged int64

	Reason     string
	ActionType ActionType
	CreatedAt  time.Time
}

// =============================================================================
// PURCHASE - Redemption with a terminal-state lifecycle
// =============================================================================

// PurchaseStatus is the purchase lifecycle state.
//
// STATE MACHINE:
//   Ordered -> Cancelled (terminal)
//   Ordered -> Refunded  (terminal)
// No other transitions exist. Attempting to leave a terminal state fails
// with ErrInvalidState.
type PurchaseStatus string

const (
	StatusOrdered   PurchaseStatus = "ordered"
	StatusCancelled PurchaseStatus = "cancelled"
	StatusRefunded  PurchaseStatus = "refunded"
)

// Terminal reports whether the status permits no further transitions.
func (s PurchaseStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Purchase records a redemption of points for catalog products.
type Purchase struct {
	ID               PurchaseID
	SponsorID        SponsorID
	DriverID         DriverID
	TotalPointsSpent int64
	Status           PurchaseStatus
	PurchaseDate     time.Time
}

// PurchaseLineItem snapshots product price and quantity at purchase time.
// The snapshot is deliberately decoupled from the live product record:
// later catalog price changes do not rewrite history.
type PurchaseLineItem struct {
	PurchaseID         PurchaseID
	ProductID          string
	PurchasedUnitPrice int64
	PointsSpent        int64
	Quantity           int64
}

// =============================================================================
// AUDIT ENTRY - Derived, append-only
// =============================================================================

// AuditCategory groups audit entries by subsystem.
type AuditCategory string

const (
	AuditCategoryPoints   AuditCategory = "points"
	AuditCategoryPurchase AuditCategory = "purchase"
)

// AuditDetails is the structured payload attached to an audit entry.
type AuditDetails struct {
	Action           string    `json:"action"`
	Amount           int64     `json:"amount"`
	Reason           string    `json:"reason"`
	SponsorID        SponsorID `json:"sponsor_id"`
	ResultingBalance int64     `json:"resulting_balance"`
}

// AuditEntry records who did what to a balance and with what outcome.
// Append-only, like the transaction ledger it is derived from.
type AuditEntry struct {
	LogID         string
	DriverID      DriverID
	Category      AuditCategory
	Action        string
	ActionSuccess bool
	Details       AuditDetails
	CreatedAt     time.Time
}

// AuditFilter narrows an audit query. Nil fields match everything.
type AuditFilter struct {
	DriverID  *DriverID
	SponsorID *SponsorID
	Category  *AuditCategory
	From      *time.Time
	To        *time.Time
}
