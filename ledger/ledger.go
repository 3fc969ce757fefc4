/*
ledger.go - TransactionLedger, the only mutation path for balances

PURPOSE:
  Records every point-changing event and keeps the cached Account.Points in
  step with the append-only transaction log. All three writes of a mutation
  (transaction row, balance update, audit entry) commit or roll back
  together; nothing is ever partially applied.

MUTATION SEQUENCE (RecordTransaction):
  1. Take the exclusive account lock (held until commit/rollback)
  2. Open one storage transaction
  3. Load the account - AccountNotFound if missing
  4. Validate the delta - InsufficientBalance rejects with NO writes
  5. Append the PointTransaction row
  6. Update the cached balance (and milestone level on credit)
  7. Append the audit entry with the POST-update balance
  8. Commit, release the lock, notify fire-and-forget

ORDERING GUARANTEE:
  Two concurrent mutations against the same account serialize on the
  account lock. Whichever commits first sees the pre-deduction balance;
  the second sees the updated balance and may correctly fail
  InsufficientBalance.

RECONCILIATION:
  The cached balance can drift (operator intervention, historical bugs).
  Reconcile recomputes Points as the sum over the account's transactions
  and overwrites the cache, under the same account lock as live mutations.
  Idempotent; run periodically by the scheduler.

SEE ALSO:
  - validator.go: The balance invariant
  - audit.go:     Audit entry ordering
  - locks.go:     Lock discipline
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/rewards-engine/notify"
)

// =============================================================================
// TRANSACTION LEDGER
// =============================================================================

// TransactionLedger owns all balance mutations.
type TransactionLedger struct {
	Store    TxStore
	Locks    *LockTable
	Audit    *AuditRecorder
	Notifier notify.Notifier
	Clock    func() time.Time
}

// NewTransactionLedger wires a ledger over the given store.
func NewTransactionLedger(store TxStore, locks *LockTable, audit *AuditRecorder, notifier notify.Notifier) *TransactionLedger {
	return &TransactionLedger{
		Store:    store,
		Locks:    locks,
		Audit:    audit,
		Notifier: notifier,
		Clock:    time.Now,
	}
}

func (l *TransactionLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// CreateAccount opens a (driver, sponsor) account with a zero balance.
// Called when the driver's application to the sponsor is approved.
func (l *TransactionLedger) CreateAccount(ctx context.Context, sponsorID SponsorID, driverID DriverID, pointValue decimal.Decimal) error {
	return l.Store.CreateAccount(ctx, Account{
		DriverID:   driverID,
		SponsorID:  sponsorID,
		Points:     0,
		PointValue: pointValue,
		CreatedAt:  l.now().UTC(),
	})
}

// RecordTransaction applies a signed point delta to an account: append the
// transaction row, update the cached balance, and audit - all in one
// atomic unit under the account's exclusive lock.
//
// Fails ErrAccountNotFound if no account exists, ErrInsufficientBalance if
// the delta would drive the balance negative (no state mutated).
func (l *TransactionLedger) RecordTransaction(
	ctx context.Context,
	sponsorID SponsorID,
	driverID DriverID,
	delta int64,
	reason string,
	action ActionType,
) (TransactionID, error) {
	unlock := l.Locks.LockAccount(sponsorID, driverID)
	defer unlock()

	var txID TransactionID
	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		txID, err = l.RecordInTx(ctx, s, sponsorID, driverID, delta, reason, action)
		return err
	})
	if err != nil {
		l.auditRejection(ctx, sponsorID, driverID, delta, reason, err)
		return "", err
	}

	l.notifyApplied(ctx, sponsorID, driverID, delta, string(txID))
	return txID, nil
}

// RecordInTx is the in-transaction body of RecordTransaction. The caller
// must already hold the account lock and an open storage transaction; the
// purchase coordinator uses this to commit the ledger writes in the same
// unit as the purchase row.
func (l *TransactionLedger) RecordInTx(
	ctx context.Context,
	s Store,
	sponsorID SponsorID,
	driverID DriverID,
	delta int64,
	reason string,
	action ActionType,
) (TransactionID, error) {
	acct, err := s.GetAccount(ctx, sponsorID, driverID)
	if err != nil {
		return "", err
	}

	if !IsDebitAllowed(acct.Points, delta) {
		return "", &InsufficientBalanceError{
			SponsorID: sponsorID,
			DriverID:  driverID,
			Available: acct.Points,
			Requested: -delta,
		}
	}
	if delta > 0 && acct.Points > math.MaxInt64-delta {
		return "", fmt.Errorf("credit of %d would overflow balance %d for driver %s", delta, acct.Points, driverID)
	}

	tx := PointTransaction{
		ID:            TransactionID(uuid.NewString()),
		SponsorID:     sponsorID,
		DriverID:      driverID,
		PointsChanged: delta,
		Reason:        reason,
		ActionType:    action,
		CreatedAt:     l.now().UTC(),
	}
	if err := s.AppendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}

	acct.Points += delta
	if delta > 0 {
		// Milestone levels follow lifetime credited points and never go
		// back down: redemption does not take a level away.
		credits, err := s.SumCredits(ctx, sponsorID, driverID)
		if err != nil {
			return "", fmt.Errorf("failed to sum credits: %w", err)
		}
		if level := MilestoneForCredits(credits); level > acct.MilestoneLevel {
			acct.MilestoneLevel = level
		}
	}
	if err := s.UpdateAccount(ctx, acct); err != nil {
		return "", fmt.Errorf("failed to update account: %w", err)
	}

	// Audit reads the post-update balance and rides the same transaction:
	// if this append fails, the whole unit rolls back.
	err = l.Audit.Record(ctx, s, driverID, categoryFor(action), directionOf(delta), true, AuditDetails{
		Action:           string(action),
		Amount:           abs(delta),
		Reason:           reason,
		SponsorID:        sponsorID,
		ResultingBalance: acct.Points,
	})
	if err != nil {
		return "", err
	}

	return tx.ID, nil
}

// GetBalance reads the cached balance. No lock, no recompute.
func (l *TransactionLedger) GetBalance(ctx context.Context, sponsorID SponsorID, driverID DriverID) (int64, error) {
	acct, err := l.Store.GetAccount(ctx, sponsorID, driverID)
	if err != nil {
		return 0, err
	}
	return acct.Points, nil
}

// Reconcile recomputes the cached balance from the full transaction
// history and overwrites it. Takes the same exclusive account lock as
// RecordTransaction so it cannot race a live mutation. Idempotent.
func (l *TransactionLedger) Reconcile(ctx context.Context, sponsorID SponsorID, driverID DriverID) error {
	unlock := l.Locks.LockAccount(sponsorID, driverID)
	defer unlock()

	return l.Store.WithTx(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, sponsorID, driverID)
		if err != nil {
			return err
		}

		sum, err := s.SumPointsChanged(ctx, sponsorID, driverID)
		if err != nil {
			return fmt.Errorf("failed to sum transactions: %w", err)
		}
		if sum == acct.Points {
			return nil
		}

		log.Printf("[Ledger] reconcile corrected drift: driver=%s sponsor=%s cached=%d actual=%d",
			driverID, sponsorID, acct.Points, sum)

		drift := acct.Points - sum
		acct.Points = sum
		if err := s.UpdateAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}

		return l.Audit.Record(ctx, s, driverID, AuditCategoryPoints, "RECONCILE", true, AuditDetails{
			Action:           "reconcile",
			Amount:           abs(drift),
			Reason:           "cached balance rewritten from transaction history",
			SponsorID:        sponsorID,
			ResultingBalance: sum,
		})
	})
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// auditRejection records a failed mutation attempt in its own unit,
// best-effort. Only invariant rejections are audited; storage errors are not.
func (l *TransactionLedger) auditRejection(ctx context.Context, sponsorID SponsorID, driverID DriverID, delta int64, reason string, cause error) {
	if !IsClientError(cause) {
		return
	}
	err := l.Audit.RecordFailure(ctx, l.Store, driverID, AuditCategoryPoints, directionOf(delta), AuditDetails{
		Action:    "rejected: " + cause.Error(),
		Amount:    abs(delta),
		Reason:    reason,
		SponsorID: sponsorID,
	})
	if err != nil {
		log.Printf("[Ledger] failed to audit rejection: %v", err)
	}
}

func (l *TransactionLedger) notifyApplied(ctx context.Context, sponsorID SponsorID, driverID DriverID, delta int64, ref string) {
	if l.Notifier == nil {
		return
	}
	kind := notify.EventCredit
	if delta < 0 {
		kind = notify.EventDebit
	}
	l.Notifier.Notify(ctx, notify.Event{
		Kind:      kind,
		SponsorID: string(sponsorID),
		DriverID:  string(driverID),
		Amount:    abs(delta),
		Reference: ref,
	})
}

func categoryFor(action ActionType) AuditCategory {
	switch action {
	case ActionPurchase, ActionRefund:
		return AuditCategoryPurchase
	default:
		return AuditCategoryPoints
	}
}

func directionOf(delta int64) string {
	if delta >= 0 {
		return "CREDIT"
	}
	return "DEBIT"
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
