/*
Package purchase orchestrates redemption of points for catalog products.

PURPOSE:
  The Coordinator drives the purchase lifecycle: create (debit points,
  snapshot line items), cancel, and refund. It composes the catalog
  collaborator, the transaction ledger, and the purchase tables into
  single atomic units - a failed attempt leaves no purchase row, no point
  transaction, and no balance change behind.

CREATE FLOW:
  1. Pre-check availability and price. No locks held; this only exists to
     reject obviously dead requests cheaply.
  2. Take the product lock, then the account lock (fixed global order -
     see ledger/locks.go).
  3. Inside one storage transaction: re-check the catalog (the pre-check
     answer may have gone stale), insert the purchase row with its line
     item snapshot, and debit the ledger. The ledger call validates the
     balance, appends the point transaction, updates the cache, and writes
     the audit entry - all riding the same transaction.
  4. Commit, release locks, notify fire-and-forget.

CANCEL/REFUND FLOW:
  Lock the purchase, then the account. Only Ordered purchases can move;
  both targets are terminal. A refund credits back the original
  TotalPointsSpent in the same unit as the status update, so a crash
  between the two is not observable.

SEE ALSO:
  - ledger/ledger.go: RecordInTx, the in-transaction ledger entry point
  - catalog.go:       The read-only marketplace boundary
*/
package purchase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/rewards-engine/ledger"
	"github.com/warp/rewards-engine/notify"
)

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator orchestrates purchase create/cancel/refund against the
// ledger and the catalog.
type Coordinator struct {
	Store    ledger.TxStore
	Ledger   *ledger.TransactionLedger
	Catalog  Catalog
	Locks    *ledger.LockTable
	Notifier notify.Notifier
	Clock    func() time.Time
}

func NewCoordinator(store ledger.TxStore, l *ledger.TransactionLedger, catalog Catalog, locks *ledger.LockTable, notifier notify.Notifier) *Coordinator {
	return &Coordinator{
		Store:    store,
		Ledger:   l,
		Catalog:  catalog,
		Locks:    locks,
		Notifier: notifier,
		Clock:    time.Now,
	}
}

func (c *Coordinator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// maxQuantity caps the units in one purchase. The cap doubles as an
// overflow guard: with quantity bounded here, price*quantity stays far
// below the int64 ceiling for any plausible catalog price.
const maxQuantity = 10000

// CreatePurchase redeems points for quantity units of a product.
//
// Fails ErrInvalidQuantity if quantity is outside [1, maxQuantity],
// ErrProductUnavailable if the catalog cannot sell or price the product,
// ErrAccountNotFound if no account exists, and ErrInsufficientBalance if
// the balance cannot cover the total. Any failure aborts the entire unit.
func (c *Coordinator) CreatePurchase(
	ctx context.Context,
	driverID ledger.DriverID,
	sponsorID ledger.SponsorID,
	productID string,
	quantity int64,
) (ledger.PurchaseID, error) {
	if quantity < 1 || quantity > maxQuantity {
		return "", fmt.Errorf("%w: %d (want 1 to %d)", ledger.ErrInvalidQuantity, quantity, maxQuantity)
	}

	// Cheap pre-check, no locks held. The authoritative check happens
	// again under the product lock below.
	if err := c.checkProduct(ctx, productID); err != nil {
		return "", err
	}

	// Lock order is fixed system-wide: product first, account second.
	unlockProduct := c.Locks.LockProduct(productID)
	defer unlockProduct()
	unlockAccount := c.Locks.LockAccount(sponsorID, driverID)
	defer unlockAccount()

	purchaseID := ledger.PurchaseID(uuid.NewString())
	var total int64

	err := c.Store.WithTx(ctx, func(s ledger.Store) error {
		// Re-check under the lock: availability or price may have changed
		// between the pre-check and here.
		if err := c.checkProduct(ctx, productID); err != nil {
			return err
		}
		price, err := c.Catalog.GetPrice(ctx, productID)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrProductUnavailable, err)
		}
		total = price * quantity
		// A non-positive or wrapped total would turn the debit below into
		// a credit. Refuse to price the order instead.
		if price <= 0 || total/quantity != price {
			return fmt.Errorf("%w: cannot price %d x %s", ledger.ErrProductUnavailable, quantity, productID)
		}

		p := ledger.Purchase{
			ID:               purchaseID,
			SponsorID:        sponsorID,
			DriverID:         driverID,
			TotalPointsSpent: total,
			Status:           ledger.StatusOrdered,
			PurchaseDate:     c.now().UTC(),
		}
		items := []ledger.PurchaseLineItem{{
			PurchaseID:         purchaseID,
			ProductID:          productID,
			PurchasedUnitPrice: price,
			PointsSpent:        total,
			Quantity:           quantity,
		}}
		if err := s.InsertPurchase(ctx, p, items); err != nil {
			return fmt.Errorf("failed to insert purchase: %w", err)
		}

		// Debit in the same unit. Balance validation, transaction row,
		// cache update, and audit all ride this transaction.
		_, err = c.Ledger.RecordInTx(ctx, s, sponsorID, driverID, -total,
			fmt.Sprintf("Purchase: %s", purchaseID), ledger.ActionPurchase)
		return err
	})
	if err != nil {
		c.auditRejection(ctx, driverID, sponsorID, "PURCHASE", total, err)
		return "", err
	}

	c.notify(ctx, notify.EventPurchase, sponsorID, driverID, total, purchaseID)
	return purchaseID, nil
}

// CancelOrRefund moves an Ordered purchase to a terminal state. With
// refund true the original points return to the account in the same
// atomic unit as the status change.
//
// Fails ErrNotFound if the purchase is missing or not owned by driverID,
// ErrInvalidState if the purchase already reached a terminal state.
func (c *Coordinator) CancelOrRefund(
	ctx context.Context,
	purchaseID ledger.PurchaseID,
	driverID ledger.DriverID,
	refund bool,
) error {
	unlockPurchase := c.Locks.LockPurchase(purchaseID)
	defer unlockPurchase()

	// Ownership lookup happens before the account lock because the sponsor
	// is not known until the purchase row is read. The purchase lock
	// already serializes competing cancel/refund calls.
	p, err := c.Store.GetPurchase(ctx, purchaseID, driverID)
	if err != nil {
		return err
	}

	unlockAccount := c.Locks.LockAccount(p.SponsorID, driverID)
	defer unlockAccount()

	err = c.Store.WithTx(ctx, func(s ledger.Store) error {
		// Re-read inside the unit; the pre-lock read was only for the key.
		p, err = s.GetPurchase(ctx, purchaseID, driverID)
		if err != nil {
			return err
		}
		if p.Status != ledger.StatusOrdered {
			return &ledger.InvalidStateError{PurchaseID: purchaseID, Status: p.Status}
		}

		status := ledger.StatusCancelled
		if refund {
			status = ledger.StatusRefunded
		}
		if err := s.UpdatePurchaseStatus(ctx, purchaseID, status); err != nil {
			return fmt.Errorf("failed to update purchase status: %w", err)
		}

		if refund {
			_, err := c.Ledger.RecordInTx(ctx, s, p.SponsorID, driverID, p.TotalPointsSpent,
				fmt.Sprintf("Refund for purchase: %s", purchaseID), ledger.ActionRefund)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	kind := notify.EventCancel
	amount := int64(0)
	if refund {
		kind = notify.EventRefund
		amount = p.TotalPointsSpent
	}
	c.notify(ctx, kind, p.SponsorID, driverID, amount, purchaseID)
	return nil
}

// GetPurchase returns a purchase with its line item snapshots.
func (c *Coordinator) GetPurchase(ctx context.Context, purchaseID ledger.PurchaseID, driverID ledger.DriverID) (*ledger.Purchase, []ledger.PurchaseLineItem, error) {
	p, err := c.Store.GetPurchase(ctx, purchaseID, driverID)
	if err != nil {
		return nil, nil, err
	}
	items, err := c.Store.LineItems(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}
	return p, items, nil
}

// ListPurchases returns a driver's purchases under a sponsor, newest first.
func (c *Coordinator) ListPurchases(ctx context.Context, sponsorID ledger.SponsorID, driverID ledger.DriverID) ([]ledger.Purchase, error) {
	return c.Store.ListPurchases(ctx, sponsorID, driverID)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (c *Coordinator) checkProduct(ctx context.Context, productID string) error {
	available, err := c.Catalog.CheckAvailability(ctx, productID)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrProductUnavailable, err)
	}
	if !available {
		return fmt.Errorf("%w: %s", ledger.ErrProductUnavailable, productID)
	}
	return nil
}

func (c *Coordinator) auditRejection(ctx context.Context, driverID ledger.DriverID, sponsorID ledger.SponsorID, action string, amount int64, cause error) {
	if !ledger.IsClientError(cause) {
		return
	}
	err := c.Ledger.Audit.RecordFailure(ctx, c.Store, driverID, ledger.AuditCategoryPurchase, action, ledger.AuditDetails{
		Action:    "rejected: " + cause.Error(),
		Amount:    amount,
		SponsorID: sponsorID,
	})
	if err != nil {
		log.Printf("[Purchase] failed to audit rejection: %v", err)
	}
}

func (c *Coordinator) notify(ctx context.Context, kind notify.EventKind, sponsorID ledger.SponsorID, driverID ledger.DriverID, amount int64, ref ledger.PurchaseID) {
	if c.Notifier == nil {
		return
	}
	c.Notifier.Notify(ctx, notify.Event{
		Kind:      kind,
		SponsorID: string(sponsorID),
		DriverID:  string(driverID),
		Amount:    amount,
		Reference: string(ref),
	})
}
