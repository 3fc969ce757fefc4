/*
locks.go - In-process exclusive locks for accounts, products, and purchases

PURPOSE:
  SQLite has no row-level SELECT ... FOR UPDATE, so the engine carries its
  own lock table: an exclusive mutex per account, product, and purchase
  key, held across the whole storage transaction. Same semantics as row
  locks, storage-agnostic.

LOCK DISCIPLINE (system-wide, fixed):
  1. Product lock, THEN account lock. Always this order, everywhere, so no
     two operations can form a deadlock cycle over the pair.
  2. Purchase lock, THEN account lock (cancel/refund path). Purchase locks
     are never held together with product locks.
  3. Reconcile takes the same account lock as the mutation paths, so it
     cannot race a live transaction.

BLOCKING MODEL:
  Lock acquisition blocks the caller until the holder releases (commits or
  rolls back). There is no lock-free fast path for mutation; GetBalance
  reads the cached balance without locking.

SEE ALSO:
  - ledger.go:               Account lock around RecordTransaction/Reconcile
  - purchase/coordinator.go: Product-then-account ordering
*/
package ledger

import "sync"

// LockTable hands out exclusive per-key locks. Locks are created on first
// use and kept for the life of the process; the key space (active accounts
// and products) is small enough that eviction is not worth the complexity.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*sync.Mutex)}
}

func (lt *LockTable) acquire(key string) func() {
	lt.mu.Lock()
	m, ok := lt.locks[key]
	if !ok {
		m = &sync.Mutex{}
		lt.locks[key] = m
	}
	lt.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// LockAccount takes the exclusive lock for one (sponsor, driver) account.
// Blocks until available. The returned func releases the lock.
func (lt *LockTable) LockAccount(sponsorID SponsorID, driverID DriverID) func() {
	return lt.acquire("account/" + string(sponsorID) + "/" + string(driverID))
}

// LockProduct takes the exclusive lock for one catalog product.
// Must be acquired BEFORE any account lock.
func (lt *LockTable) LockProduct(productID string) func() {
	return lt.acquire("product/" + productID)
}

// LockPurchase takes the exclusive lock for one purchase row.
// Must be acquired BEFORE any account lock, and never together with a
// product lock.
func (lt *LockTable) LockPurchase(purchaseID PurchaseID) func() {
	return lt.acquire("purchase/" + string(purchaseID))
}
