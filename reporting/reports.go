/*
Package reporting serves read-only aggregates over the ledger.

PURPOSE:
  Sponsor-facing summaries (points issued, redeemed, outstanding) and
  driver statements. Everything here is a pure read - this package never
  mutates ledger state - so every query runs through ExecuteWithRetry.

CASH VALUES:
  Sponsors assign each point a dollar value (Account.PointValue). Reports
  convert with decimal math; the ledger itself only ever deals in integer
  points.

SEE ALSO:
  - retry.go:        The bounded-retry wrapper
  - ledger/store.go: The read methods consumed here
*/
package reporting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/rewards-engine/ledger"
)

// =============================================================================
// REPORTER
// =============================================================================

// Reporter answers read-only aggregate queries. It deliberately takes the
// narrow ledger.Store interface: there is no transaction surface to abuse.
type Reporter struct {
	Store       ledger.Store
	MaxAttempts int // 0 means DefaultMaxAttempts
}

func NewReporter(store ledger.Store) *Reporter {
	return &Reporter{Store: store}
}

// SponsorSummary aggregates point flow for one sponsor.
type SponsorSummary struct {
	SponsorID        ledger.SponsorID
	PointsIssued     int64 // sum of credits
	PointsRedeemed   int64 // sum of debits, as a positive number
	OutstandingTotal int64 // sum of cached balances
	DriverCount      int
}

// Summarize computes the sponsor summary from transaction history and
// current account caches.
func (r *Reporter) Summarize(ctx context.Context, sponsorID ledger.SponsorID) (*SponsorSummary, error) {
	return ExecuteWithRetry(ctx, r.MaxAttempts, func(ctx context.Context) (*SponsorSummary, error) {
		txs, err := r.Store.TransactionsForSponsor(ctx, sponsorID)
		if err != nil {
			return nil, err
		}

		summary := &SponsorSummary{SponsorID: sponsorID}
		for _, tx := range txs {
			if tx.PointsChanged >= 0 {
				summary.PointsIssued += tx.PointsChanged
			} else {
				summary.PointsRedeemed += -tx.PointsChanged
			}
		}

		accounts, err := r.Store.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, acct := range accounts {
			if acct.SponsorID != sponsorID {
				continue
			}
			summary.OutstandingTotal += acct.Points
			summary.DriverCount++
		}
		return summary, nil
	})
}

// DriverStatement is one driver's history and current standing under a
// sponsor.
type DriverStatement struct {
	SponsorID      ledger.SponsorID
	DriverID       ledger.DriverID
	Balance        int64
	CashValue      decimal.Decimal
	MilestoneLevel int
	Transactions   []ledger.PointTransaction
}

// Statement builds a driver statement, including the cash value of the
// current balance at the sponsor's point rate.
func (r *Reporter) Statement(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (*DriverStatement, error) {
	return ExecuteWithRetry(ctx, r.MaxAttempts, func(ctx context.Context) (*DriverStatement, error) {
		acct, err := r.Store.GetAccount(ctx, sponsorID, driverID)
		if err != nil {
			return nil, err
		}
		txs, err := r.Store.Transactions(ctx, sponsorID, driverID)
		if err != nil {
			return nil, err
		}
		return &DriverStatement{
			SponsorID:      sponsorID,
			DriverID:       driverID,
			Balance:        acct.Points,
			CashValue:      acct.CashValue(),
			MilestoneLevel: acct.MilestoneLevel,
			Transactions:   txs,
		}, nil
	})
}

// OutstandingLiability totals the cash value of every unredeemed point a
// sponsor has issued, at that sponsor's point rate.
func (r *Reporter) OutstandingLiability(ctx context.Context, sponsorID ledger.SponsorID) (decimal.Decimal, error) {
	return ExecuteWithRetry(ctx, r.MaxAttempts, func(ctx context.Context) (decimal.Decimal, error) {
		accounts, err := r.Store.ListAccounts(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		total := decimal.Zero
		for _, acct := range accounts {
			if acct.SponsorID == sponsorID {
				total = total.Add(acct.CashValue())
			}
		}
		return total, nil
	})
}
