// Package memory provides in-process implementations of the checkout storage
// ports. They back local development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

var (
	_ cart.Provider = (*Carts)(nil)
	_ cart.Store    = (*CartStore)(nil)
)

// Carts keeps every cart in process memory.
type Carts struct {
	mu    sync.Mutex
	carts map[string]*CartStore
}

// NewCarts creates an empty cart provider.
func NewCarts() *Carts {
	return &Carts{carts: make(map[string]*CartStore)}
}

// Cart returns the store of the cart with the given id, creating an empty
// cart on first use.
func (c *Carts) Cart(id string) cart.Store {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.carts[id]
	if !ok {
		s = &CartStore{}
		c.carts[id] = s
	}
	return s
}

// CartStore is a single in-memory cart.
type CartStore struct {
	mu   sync.RWMutex
	snap cart.Snapshot
}

// NewCartStore creates a cart holding the given lines.
func NewCartStore(lines ...cart.LineItem) *CartStore {
	return &CartStore{snap: cart.Snapshot{Lines: lines}}
}

// Snapshot returns a copy of the cart.
func (s *CartStore) Snapshot(_ context.Context) (cart.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

// Dispatch applies a under the write lock.
func (s *CartStore) Dispatch(_ context.Context, a cart.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cart.Apply(s.snap, a)
	return nil
}
