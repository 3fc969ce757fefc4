/*
catalog.go - Catalog collaborator boundary

PURPOSE:
  The engine does not own product data. Availability and price come from a
  third-party marketplace behind this read-only interface; the coordinator
  consults it twice per purchase (a cheap pre-check, then a re-check under
  the product lock).

IMPLEMENTATIONS:
  StaticCatalog holds a seeded product list in memory for dev and tests.
  The real marketplace client lives outside this repository and plugs in
  behind the same interface.

SEE ALSO:
  - coordinator.go: The only consumer
*/
package purchase

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/rewards-engine/ledger"
)

func errUnknownPrice(productID string) error {
	return fmt.Errorf("%w: no price for product %s", ledger.ErrProductUnavailable, productID)
}

// Catalog answers availability and price questions about products.
// Read-only from the engine's point of view.
type Catalog interface {
	// CheckAvailability reports whether the product can be purchased now.
	CheckAvailability(ctx context.Context, productID string) (bool, error)

	// GetPrice returns the product's price in points.
	// Implementations return an error if the price is unknown.
	GetPrice(ctx context.Context, productID string) (int64, error)
}

// =============================================================================
// STATIC CATALOG - In-memory implementation for dev and tests
// =============================================================================

// Product is one catalog entry as the static catalog models it.
type Product struct {
	ID        string
	Name      string
	Price     int64 // in points
	Available bool
}

// StaticCatalog serves a fixed product list. Safe for concurrent use.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewStaticCatalog(products ...Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *StaticCatalog) CheckAvailability(_ context.Context, productID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	return ok && p.Available, nil
}

func (c *StaticCatalog) GetPrice(_ context.Context, productID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return 0, errUnknownPrice(productID)
	}
	return p.Price, nil
}

// Put adds or replaces a product. Test/dev hook; the real catalog is
// mutated by the marketplace, not by this engine.
func (c *StaticCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

// SetAvailability flips availability for an existing product.
func (c *StaticCatalog) SetAvailability(productID string, available bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[productID]; ok {
		p.Available = available
		c.products[productID] = p
	}
}
