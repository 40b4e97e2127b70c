package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
)

// MemoryCartRepository keeps carts in process. Mutations on one owner key are
// serialized by that key's lock; different owners proceed in parallel.
type MemoryCartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
	locks keyedMutex
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (m *MemoryCartRepository) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[ownerKey]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func (m *MemoryCartRepository) AddItem(ctx context.Context, ownerKey string, item domain.CartItem) (*domain.Cart, error) {
	return m.mutate(ctx, ownerKey, nil, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].Matches(item.ProductRef, item.Variant) {
				c.Items[i].Quantity += item.Quantity
				return nil
			}
		}
		item.Variant = domain.NormalizeVariant(item.Variant)
		item.AddedAt = time.Now().UTC()
		c.Items = append(c.Items, item)
		return nil
	})
}

func (m *MemoryCartRepository) UpdateItemQuantity(ctx context.Context, ownerKey, itemID string, quantity int) (*domain.Cart, error) {
	return m.mutate(ctx, ownerKey, ErrItemNotFound, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ItemID == itemID {
				c.Items[i].Quantity = quantity
				return nil
			}
		}
		return ErrItemNotFound
	})
}

func (m *MemoryCartRepository) RemoveItem(ctx context.Context, ownerKey, itemID string) (*domain.Cart, error) {
	return m.mutate(ctx, ownerKey, ErrItemNotFound, func(c *domain.Cart) error {
		for i := range c.Items {
			if c.Items[i].ItemID == itemID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return nil
			}
		}
		return ErrItemNotFound
	})
}

func (m *MemoryCartRepository) ClearCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	return m.mutate(ctx, ownerKey, ErrCartNotFound, func(c *domain.Cart) error {
		c.Items = []domain.CartItem{}
		return nil
	})
}

func (m *MemoryCartRepository) RemoveLines(ctx context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error) {
	return m.mutate(ctx, ownerKey, ErrCartNotFound, func(c *domain.Cart) error {
		remove := takenQuantities(taken)
		kept := c.Items[:0]
		for _, it := range c.Items {
			it.Quantity -= remove[it.ItemID]
			if it.Quantity > 0 {
				kept = append(kept, it)
			}
		}
		c.Items = kept
		return nil
	})
}

func takenQuantities(taken []domain.CartLineRef) map[string]int {
	out := make(map[string]int, len(taken))
	for _, t := range taken {
		out[t.ItemID] += t.Quantity
	}
	return out
}

// mutate applies fn to a private copy of the owner's cart and publishes it only if fn succeeds.
// A missing cart is created when missingErr is nil, otherwise missingErr is returned.
func (m *MemoryCartRepository) mutate(ctx context.Context, ownerKey string, missingErr error, fn func(*domain.Cart) error) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(ownerKey)
	defer unlock()

	m.mu.RLock()
	current, ok := m.carts[ownerKey]
	m.mu.RUnlock()

	var working *domain.Cart
	switch {
	case ok:
		working = cloneCart(current)
	case missingErr == nil:
		working = domain.EmptyCart(ownerKey)
	default:
		return nil, missingErr
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	working.UpdatedAt = time.Now().UTC()
	working.Recalculate()

	m.mu.Lock()
	m.carts[ownerKey] = working
	m.mu.Unlock()

	return cloneCart(working), nil
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = make([]domain.CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}

// keyedMutex hands out one mutex per key and drops it once no goroutine holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
