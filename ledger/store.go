/*
store.go - Persistence interfaces for the points engine

PURPOSE:
  Defines the boundary between engine logic and the database. Two append-only
  tables (point_transactions, audit_entries), one mutable cache (accounts),
  and the purchase tables with their snapshot line items.

APPEND-ONLY CONTRACT:
  PointTransaction and AuditEntry writes are Append* only. There is no
  update or delete method for either, and implementations must not grow one.
  The only mutable rows are the account cache (points, milestone) and the
  purchase status column.

ATOMIC UNITS:
  WithTx runs a function against a transactional view of the store. If the
  function errors, every write inside it rolls back; partial application
  (transaction row written but balance not updated) must never be
  observable. The engine composes purchase row + line items + point
  transaction + balance update + audit entry into one such unit.

IMPLEMENTATIONS:
  - store/sqlite:      Production SQLite (WAL mode)
  - ledger/store:      In-memory, for tests and dev

SEE ALSO:
  - ledger.go: The mutation paths composing these calls
  - audit.go:  Audit append inside the same unit
*/
package ledger

import "context"

// =============================================================================
// STORE - Full persistence surface
// =============================================================================

// Store is the persistence surface the engine runs against. Inside WithTx
// the same interface is handed back bound to the open transaction.
type Store interface {
	// --- Accounts (cached balance; mutated only via TransactionLedger) ---

	// CreateAccount inserts a new account. Fails ErrAccountExists on conflict.
	CreateAccount(ctx context.Context, acct Account) error

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, sponsorID SponsorID, driverID DriverID) (*Account, error)

	// UpdateAccount persists Points and MilestoneLevel for an existing account.
	UpdateAccount(ctx context.Context, acct *Account) error

	// ListAccounts returns every account. Used by the reconcile scheduler.
	ListAccounts(ctx context.Context) ([]Account, error)

	// --- Point transactions (append-only) ---

	// AppendTransaction writes one ledger entry. No update, no delete. Ever.
	AppendTransaction(ctx context.Context, tx PointTransaction) error

	// Transactions returns an account's entries, oldest first.
	Transactions(ctx context.Context, sponsorID SponsorID, driverID DriverID) ([]PointTransaction, error)

	// TransactionsForSponsor returns all entries under a sponsor, oldest
	// first. Read-only reporting path.
	TransactionsForSponsor(ctx context.Context, sponsorID SponsorID) ([]PointTransaction, error)

	// SumPointsChanged returns the sum of PointsChanged for an account.
	// This is the true balance; Reconcile rewrites the cache from it.
	SumPointsChanged(ctx context.Context, sponsorID SponsorID, driverID DriverID) (int64, error)

	// SumCredits returns the sum of positive PointsChanged for an account,
	// i.e. lifetime credited points. Drives milestone levels.
	SumCredits(ctx context.Context, sponsorID SponsorID, driverID DriverID) (int64, error)

	// --- Purchases ---

	// InsertPurchase writes the purchase row and its line item snapshots.
	InsertPurchase(ctx context.Context, p Purchase, items []PurchaseLineItem) error

	// GetPurchase returns the purchase if it exists AND belongs to driverID,
	// else ErrNotFound. Ownership is part of the lookup, not a later check.
	GetPurchase(ctx context.Context, purchaseID PurchaseID, driverID DriverID) (*Purchase, error)

	// UpdatePurchaseStatus moves a purchase to a new status.
	UpdatePurchaseStatus(ctx context.Context, purchaseID PurchaseID, status PurchaseStatus) error

	// LineItems returns the snapshot items for a purchase.
	LineItems(ctx context.Context, purchaseID PurchaseID) ([]PurchaseLineItem, error)

	// ListPurchases returns a driver's purchases under a sponsor, newest first.
	ListPurchases(ctx context.Context, sponsorID SponsorID, driverID DriverID) ([]Purchase, error)

	// --- Audit trail (append-only) ---

	// AppendAudit writes one audit entry. Append-only, like the ledger.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// QueryAudit returns entries matching the filter, newest first.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore extends Store with atomic multi-write units.
type TxStore interface {
	Store

	// WithTx executes fn within one storage transaction.
	// fn error => full rollback. nil => commit.
	WithTx(ctx context.Context, fn func(Store) error) error
}
