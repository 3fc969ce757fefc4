// Package store provides an in-memory ledger.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rewards-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore with plain maps. WithTx stages writes
// against a copy of the state and swaps it in on commit, so a failing unit
// leaves nothing behind - same observable semantics as the SQLite store.
type Memory struct {
	mu    sync.RWMutex
	state *memState

	// failAppendAudit, when set, makes AppendAudit fail. Lets tests prove
	// that a failed audit write rolls back the whole unit.
	failAppendAudit error
}

type acctKey struct {
	SponsorID ledger.SponsorID
	DriverID  ledger.DriverID
}

type memState struct {
	accounts     map[acctKey]ledger.Account
	transactions []ledger.PointTransaction
	purchases    map[ledger.PurchaseID]ledger.Purchase
	lineItems    map[ledger.PurchaseID][]ledger.PurchaseLineItem
	audit        []ledger.AuditEntry
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[acctKey]ledger.Account),
		purchases: make(map[ledger.PurchaseID]ledger.Purchase),
		lineItems: make(map[ledger.PurchaseID][]ledger.PurchaseLineItem),
	}
}

func (st *memState) clone() *memState {
	next := &memState{
		accounts:     make(map[acctKey]ledger.Account, len(st.accounts)),
		transactions: append([]ledger.PointTransaction(nil), st.transactions...),
		purchases:    make(map[ledger.PurchaseID]ledger.Purchase, len(st.purchases)),
		lineItems:    make(map[ledger.PurchaseID][]ledger.PurchaseLineItem, len(st.lineItems)),
		audit:        append([]ledger.AuditEntry(nil), st.audit...),
	}
	for k, v := range st.accounts {
		next.accounts[k] = v
	}
	for k, v := range st.purchases {
		next.purchases[k] = v
	}
	for k, v := range st.lineItems {
		next.lineItems[k] = append([]ledger.PurchaseLineItem(nil), v...)
	}
	return next
}

func NewMemory() *Memory {
	return &Memory{state: newMemState()}
}

// FailAudit makes every AppendAudit call fail with err until cleared with
// a nil err. Test hook.
func (m *Memory) FailAudit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppendAudit = err
}

// WithTx stages fn's writes on a cloned state and swaps it in on success.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &view{state: m.state.clone(), mem: m}
	if err := fn(staged); err != nil {
		return err
	}
	m.state = staged.state
	return nil
}

// view is the Store handed to code, bound either to the live state (reads
// outside a unit) or to a staged clone (inside WithTx).
type view struct {
	state *memState
	mem   *Memory
}

func (m *Memory) read() *view {
	return &view{state: m.state, mem: m}
}

// --- Store interface on *Memory: lock, delegate to a view ---

func (m *Memory) CreateAccount(ctx context.Context, acct ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().CreateAccount(ctx, acct)
}

func (m *Memory) GetAccount(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetAccount(ctx, sponsorID, driverID)
}

func (m *Memory) UpdateAccount(ctx context.Context, acct *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateAccount(ctx, acct)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListAccounts(ctx)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx ledger.PointTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendTransaction(ctx, tx)
}

func (m *Memory) Transactions(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Transactions(ctx, sponsorID, driverID)
}

func (m *Memory) TransactionsForSponsor(ctx context.Context, sponsorID ledger.SponsorID) ([]ledger.PointTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().TransactionsForSponsor(ctx, sponsorID)
}

func (m *Memory) SumPointsChanged(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SumPointsChanged(ctx, sponsorID, driverID)
}

func (m *Memory) SumCredits(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().SumCredits(ctx, sponsorID, driverID)
}

func (m *Memory) InsertPurchase(ctx context.Context, p ledger.Purchase, items []ledger.PurchaseLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().InsertPurchase(ctx, p, items)
}

func (m *Memory) GetPurchase(ctx context.Context, purchaseID ledger.PurchaseID, driverID ledger.DriverID) (*ledger.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPurchase(ctx, purchaseID, driverID)
}

func (m *Memory) UpdatePurchaseStatus(ctx context.Context, purchaseID ledger.PurchaseID, status ledger.PurchaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdatePurchaseStatus(ctx, purchaseID, status)
}

func (m *Memory) LineItems(ctx context.Context, purchaseID ledger.PurchaseID) ([]ledger.PurchaseLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LineItems(ctx, purchaseID)
}

func (m *Memory) ListPurchases(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPurchases(ctx, sponsorID, driverID)
}

func (m *Memory) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().QueryAudit(ctx, filter)
}

// --- view implementation (no locking; caller holds it) ---

func (v *view) CreateAccount(_ context.Context, acct ledger.Account) error {
	k := acctKey{SponsorID: acct.SponsorID, DriverID: acct.DriverID}
	if _, ok := v.state.accounts[k]; ok {
		return ledger.ErrAccountExists
	}
	v.state.accounts[k] = acct
	return nil
}

func (v *view) GetAccount(_ context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (*ledger.Account, error) {
	acct, ok := v.state.accounts[acctKey{SponsorID: sponsorID, DriverID: driverID}]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	copied := acct
	return &copied, nil
}

func (v *view) UpdateAccount(_ context.Context, acct *ledger.Account) error {
	k := acctKey{SponsorID: acct.SponsorID, DriverID: acct.DriverID}
	if _, ok := v.state.accounts[k]; !ok {
		return ledger.ErrAccountNotFound
	}
	v.state.accounts[k] = *acct
	return nil
}

func (v *view) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	accounts := make([]ledger.Account, 0, len(v.state.accounts))
	for _, acct := range v.state.accounts {
		accounts = append(accounts, acct)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].SponsorID != accounts[j].SponsorID {
			return accounts[i].SponsorID < accounts[j].SponsorID
		}
		return accounts[i].DriverID < accounts[j].DriverID
	})
	return accounts, nil
}

func (v *view) AppendTransaction(_ context.Context, tx ledger.PointTransaction) error {
	v.state.transactions = append(v.state.transactions, tx)
	return nil
}

func (v *view) Transactions(_ context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.PointTransaction, error) {
	var result []ledger.PointTransaction
	for _, tx := range v.state.transactions {
		if tx.SponsorID == sponsorID && tx.DriverID == driverID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (v *view) TransactionsForSponsor(_ context.Context, sponsorID ledger.SponsorID) ([]ledger.PointTransaction, error) {
	var result []ledger.PointTransaction
	for _, tx := range v.state.transactions {
		if tx.SponsorID == sponsorID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (v *view) SumPointsChanged(_ context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	var sum int64
	for _, tx := range v.state.transactions {
		if tx.SponsorID == sponsorID && tx.DriverID == driverID {
			sum += tx.PointsChanged
		}
	}
	return sum, nil
}

func (v *view) SumCredits(_ context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) (int64, error) {
	var sum int64
	for _, tx := range v.state.transactions {
		if tx.SponsorID == sponsorID && tx.DriverID == driverID && tx.PointsChanged > 0 {
			sum += tx.PointsChanged
		}
	}
	return sum, nil
}

func (v *view) InsertPurchase(_ context.Context, p ledger.Purchase, items []ledger.PurchaseLineItem) error {
	v.state.purchases[p.ID] = p
	v.state.lineItems[p.ID] = append([]ledger.PurchaseLineItem(nil), items...)
	return nil
}

func (v *view) GetPurchase(_ context.Context, purchaseID ledger.PurchaseID, driverID ledger.DriverID) (*ledger.Purchase, error) {
	p, ok := v.state.purchases[purchaseID]
	if !ok || p.DriverID != driverID {
		return nil, ledger.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (v *view) UpdatePurchaseStatus(_ context.Context, purchaseID ledger.PurchaseID, status ledger.PurchaseStatus) error {
	p, ok := v.state.purchases[purchaseID]
	if !ok {
		return ledger.ErrNotFound
	}
	p.Status = status
	v.state.purchases[purchaseID] = p
	return nil
}

func (v *view) LineItems(_ context.Context, purchaseID ledger.PurchaseID) ([]ledger.PurchaseLineItem, error) {
	return append([]ledger.PurchaseLineItem(nil), v.state.lineItems[purchaseID]...), nil
}

func (v *view) ListPurchases(_ context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.Purchase, error) {
	var result []ledger.Purchase
	for _, p := range v.state.purchases {
		if p.SponsorID == sponsorID && p.DriverID == driverID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PurchaseDate.After(result[j].PurchaseDate)
	})
	return result, nil
}

func (v *view) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	if v.mem.failAppendAudit != nil {
		return v.mem.failAppendAudit
	}
	v.state.audit = append(v.state.audit, entry)
	return nil
}

func (v *view) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	var result []ledger.AuditEntry
	for _, e := range v.state.audit {
		if filter.DriverID != nil && e.DriverID != *filter.DriverID {
			continue
		}
		if filter.SponsorID != nil && e.Details.SponsorID != *filter.SponsorID {
			continue
		}
		if filter.Category != nil && e.Category != *filter.Category {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, e)
	}
	// Newest first, matching the SQLite store.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Compile-time interface checks.
var (
	_ ledger.Store   = (*Memory)(nil)
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*view)(nil)
)
