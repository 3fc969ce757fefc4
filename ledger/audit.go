/*
audit.go - Audit trail derived from ledger mutations

PURPOSE:
  Every balance mutation produces an audit entry recording the action, the
  amount, and the POST-UPDATE balance. The ordering is explicit:
  TransactionLedger updates the account, then calls Record with the updated
  balance, inside the same storage transaction.

ATOMICITY:
  Strict. A failed audit append aborts the whole enclosing transaction -
  audit and ledger consistency are equally load-bearing.

FAILED ATTEMPTS:
  Rejected operations (e.g. InsufficientBalance) mutate nothing, so their
  audit entries cannot ride the rolled-back transaction. RecordFailure
  writes them in their own unit, best-effort, after the rollback.

SEE ALSO:
  - ledger.go: Caller ordering (balance update, then Record)
  - store.go:  AppendAudit / QueryAudit
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRecorder appends audit entries derived from ledger mutations.
type AuditRecorder struct {
	Clock func() time.Time // defaults to time.Now
}

func NewAuditRecorder() *AuditRecorder {
	return &AuditRecorder{Clock: time.Now}
}

func (ar *AuditRecorder) now() time.Time {
	if ar.Clock != nil {
		return ar.Clock()
	}
	return time.Now()
}

// Record appends an audit entry through the caller's store view. When
// called inside WithTx it commits or rolls back with the mutation that
// triggered it.
func (ar *AuditRecorder) Record(
	ctx context.Context,
	store Store,
	driverID DriverID,
	category AuditCategory,
	action string,
	success bool,
	details AuditDetails,
) error {
	entry := AuditEntry{
		LogID:         uuid.NewString(),
		DriverID:      driverID,
		Category:      category,
		Action:        action,
		ActionSuccess: success,
		Details:       details,
		CreatedAt:     ar.now().UTC(),
	}
	if err := store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// RecordFailure writes an audit entry for a rejected operation in its own
// transaction. Best-effort: the rejection already happened and stands
// whether or not this write lands, so the error is returned for logging
// only and must not change the caller's outcome.
func (ar *AuditRecorder) RecordFailure(
	ctx context.Context,
	store TxStore,
	driverID DriverID,
	category AuditCategory,
	action string,
	details AuditDetails,
) error {
	return store.WithTx(ctx, func(s Store) error {
		return ar.Record(ctx, s, driverID, category, action, false, details)
	})
}

// Query returns audit entries matching the filter, newest first.
func (ar *AuditRecorder) Query(ctx context.Context, store Store, filter AuditFilter) ([]AuditEntry, error) {
	return store.QueryAudit(ctx, filter)
}
