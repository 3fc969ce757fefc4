/*
scheduler.go - Periodic reconciliation of cached balances

PURPOSE:
  Walks every account on an interval and reruns Reconcile, rewriting any
  cached balance that drifted from its transaction history. Reconcile is
  idempotent and takes the same account lock as live mutations, so the
  sweep can run alongside traffic.

CONFIGURATION:
  - Interval: How often to sweep (default: 1 hour)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewReconcileScheduler(store, l)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual, single account)
  - ledger/ledger.go: Reconcile semantics
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/rewards-engine/ledger"
)

// ReconcileScheduler sweeps all accounts on an interval.
type ReconcileScheduler struct {
	Store    ledger.TxStore
	Ledger   *ledger.TransactionLedger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconcileScheduler creates a scheduler with the default interval.
func NewReconcileScheduler(store ledger.TxStore, l *ledger.TransactionLedger) *ReconcileScheduler {
	return &ReconcileScheduler{
		Store:    store,
		Ledger:   l,
		Interval: 1 * time.Hour,
		Enabled:  true,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)
	go rs.run()

	log.Printf("[Scheduler] Started with reconcile interval: %v", rs.Interval)
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil

	log.Println("[Scheduler] Stopped")
}

func (rs *ReconcileScheduler) run() {
	defer rs.wg.Done()
	for {
		select {
		case <-rs.ticker.C:
			rs.Sweep(context.Background())
		case <-rs.stop:
			return
		}
	}
}

// Sweep reconciles every account once. Errors on individual accounts are
// logged and do not stop the sweep.
func (rs *ReconcileScheduler) Sweep(ctx context.Context) {
	accounts, err := rs.Store.ListAccounts(ctx)
	if err != nil {
		log.Printf("[Scheduler] failed to list accounts: %v", err)
		return
	}

	for _, acct := range accounts {
		if err := rs.Ledger.Reconcile(ctx, acct.SponsorID, acct.DriverID); err != nil {
			log.Printf("[Scheduler] reconcile failed: driver=%s sponsor=%s: %v",
				acct.DriverID, acct.SponsorID, err)
		}
	}
}
