package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/ledger"
	"github.com/warp/rewards-engine/ledger/store"
	"github.com/warp/rewards-engine/notify"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	sponsor = ledger.SponsorID("sponsor-1")
	driver  = ledger.DriverID("driver-1")
)

func newTestLedger(t *testing.T) (*ledger.TransactionLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.NewTransactionLedger(mem, ledger.NewLockTable(), ledger.NewAuditRecorder(), notify.NopNotifier{})
	require.NoError(t, l.CreateAccount(context.Background(), sponsor, driver, decimal.NewFromFloat(0.01)))
	return l, mem
}

func credit(t *testing.T, l *ledger.TransactionLedger, points int64) {
	t.Helper()
	_, err := l.RecordTransaction(context.Background(), sponsor, driver, points, "good driving", ledger.ActionCredit)
	require.NoError(t, err)
}

// =============================================================================
// RECORD TRANSACTION
// =============================================================================

func TestRecordTransaction_CreditUpdatesBalance(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	txID, err := l.RecordTransaction(ctx, sponsor, driver, 100, "signup bonus", ledger.ActionCredit)
	require.NoError(t, err)
	assert.NotEmpty(t, txID)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestRecordTransaction_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.RecordTransaction(ctx, "sponsor-x", "driver-x", 100, "bonus", ledger.ActionCredit)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRecordTransaction_OverdraftRejectedWithNoStateChange(t *testing.T) {
	// GIVEN: balance 100
	// WHEN: debiting 150
	// THEN: InsufficientBalance, balance still 100, no transaction recorded
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, -150, "overdraft attempt", ledger.ActionDebit)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var ibe *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, int64(100), ibe.Available)
	assert.Equal(t, int64(150), ibe.Requested)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := mem.Transactions(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Len(t, txs, 1) // only the original credit
}

func TestRecordTransaction_ExtremeDebitDoesNotWrap(t *testing.T) {
	// GIVEN: balance 100
	// WHEN: debiting the most negative int64 (balance+delta would wrap positive)
	// THEN: rejected as insufficient, balance untouched
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, math.MinInt64, "wrap attempt", ledger.ActionDebit)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := mem.Transactions(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRecordTransaction_CreditOverflowRejected(t *testing.T) {
	// GIVEN: balance 100
	// WHEN: crediting enough that Points+delta wraps past int64 max
	// THEN: rejected, nothing committed
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, math.MaxInt64, "jackpot", ledger.ActionCredit)
	require.Error(t, err)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := mem.Transactions(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRecordTransaction_DebitToExactlyZero(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, -100, "full spend", ledger.ActionDebit)
	require.NoError(t, err)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestRecordTransaction_AuditRidesTheSameUnit(t *testing.T) {
	// GIVEN: a successful debit of 60 from balance 100
	// THEN: exactly one audit entry with the POST-update balance
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, -60, "redeem", ledger.ActionDebit)
	require.NoError(t, err)

	entries, err := mem.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2) // credit + debit

	// Newest first.
	debitEntry := entries[0]
	assert.Equal(t, "DEBIT", debitEntry.Action)
	assert.True(t, debitEntry.ActionSuccess)
	assert.Equal(t, int64(60), debitEntry.Details.Amount)
	assert.Equal(t, int64(40), debitEntry.Details.ResultingBalance)
	assert.Equal(t, sponsor, debitEntry.Details.SponsorID)
}

func TestRecordTransaction_AuditFailureRollsBackEverything(t *testing.T) {
	// GIVEN: the audit append fails
	// THEN: the whole unit rolls back - no transaction row, no balance change
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	mem.FailAudit(errors.New("audit table unreachable"))
	_, err := l.RecordTransaction(ctx, sponsor, driver, -60, "redeem", ledger.ActionDebit)
	require.Error(t, err)
	mem.FailAudit(nil)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	txs, err := mem.Transactions(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRecordTransaction_RejectionIsAudited(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	_, err := l.RecordTransaction(ctx, sponsor, driver, -150, "too much", ledger.ActionDebit)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	entries, err := mem.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2) // credit + rejected debit

	rejected := entries[0]
	assert.False(t, rejected.ActionSuccess)
	assert.Equal(t, int64(150), rejected.Details.Amount)
}

// =============================================================================
// MILESTONES
// =============================================================================

func TestMilestoneLevel_RisesWithLifetimeCreditsAndNeverFalls(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLedger(t)

	credit(t, l, 1000)
	acct, err := mem.GetAccount(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.MilestoneLevel)

	// Spending does not take the level away.
	_, err = l.RecordTransaction(ctx, sponsor, driver, -900, "redeem", ledger.ActionDebit)
	require.NoError(t, err)
	acct, err = mem.GetAccount(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.MilestoneLevel)

	// Lifetime credits 1000+4000=5000 -> level 2, even though balance is 4100.
	credit(t, l, 4000)
	acct, err = mem.GetAccount(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, 2, acct.MilestoneLevel)
}

// =============================================================================
// RECONCILE
// =============================================================================

func TestReconcile_RewritesDriftedCache(t *testing.T) {
	// GIVEN: a cached balance that drifted from the transaction history
	// WHEN: Reconcile runs
	// THEN: Points == sum of PointsChanged again
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)
	_, err := l.RecordTransaction(ctx, sponsor, driver, -30, "redeem", ledger.ActionDebit)
	require.NoError(t, err)

	// Simulate drift (operator intervention, historical bug).
	acct, err := mem.GetAccount(ctx, sponsor, driver)
	require.NoError(t, err)
	acct.Points = 999
	require.NoError(t, mem.UpdateAccount(ctx, acct))

	require.NoError(t, l.Reconcile(ctx, sponsor, driver))

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	require.NoError(t, l.Reconcile(ctx, sponsor, driver))
	require.NoError(t, l.Reconcile(ctx, sponsor, driver))

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// A clean reconcile writes no audit noise.
	entries, err := mem.QueryAudit(ctx, ledger.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1) // only the credit
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecordTransaction_ConcurrentDebitsSerializeOnAccountLock(t *testing.T) {
	// GIVEN: balance 100, two concurrent debits of 60
	// THEN: exactly one succeeds, final balance 40
	ctx := context.Background()
	l, mem := newTestLedger(t)
	credit(t, l, 100)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.RecordTransaction(ctx, sponsor, driver, -60, "race", ledger.ActionDebit)
		}(i)
	}
	wg.Wait()

	var successes, rejections int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)

	balance, err := l.GetBalance(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	sum, err := mem.SumPointsChanged(ctx, sponsor, driver)
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestCreateAccount_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	err := l.CreateAccount(ctx, sponsor, driver, decimal.NewFromFloat(0.02))
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}
