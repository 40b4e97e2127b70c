package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/payment"
	"github.com/shopspring/decimal"
)

type mockCatalog struct {
	products map[string]*domain.Product
	err      error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{products: map[string]*domain.Product{
		"1": {ID: "1", Name: "Sparkle Shine", Price: decimal.RequireFromString("24.99"), InStock: true},
		"2": {ID: "2", Name: "Berry Bliss", Price: decimal.RequireFromString("26.99"), InStock: true},
		"6": {ID: "6", Name: "Nude Glow", Price: decimal.RequireFromString("31.99"), InStock: false},
	}}
}

func (m *mockCatalog) ResolveProduct(_ context.Context, id string) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

type mockGateway struct {
	mu           sync.Mutex
	initURL      string
	initErr      error
	initCalls    int
	initDelay    time.Duration
	lastInit     payment.InitializeRequest
	verification *domain.Verification
	verifyErr    error
	verifyCalls  int
	verifyDelay  time.Duration
}

func (m *mockGateway) Initialize(ctx context.Context, req payment.InitializeRequest) (string, error) {
	m.mu.Lock()
	m.initCalls++
	m.lastInit = req
	delay, url, err := m.initDelay, m.initURL, m.initErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return url, err
}

func (m *mockGateway) Verify(ctx context.Context, txRef string) (*domain.Verification, error) {
	m.mu.Lock()
	m.verifyCalls++
	delay, v, err := m.verifyDelay, m.verification, m.verifyErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := *v
	out.TxRef = txRef
	return &out, nil
}

func (m *mockGateway) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

// stubCartStore serves the same two-line cart to every owner and records what checkout takes off it.
type stubCartStore struct {
	mu    sync.Mutex
	calls map[string]int
	taken map[string][]domain.CartLineRef
}

// Snapshot returns a cart worth 250.00 before shipping and tax.
func (c *stubCartStore) Snapshot(_ context.Context, ownerKey string) (*domain.Cart, error) {
	cart := domain.EmptyCart(ownerKey)
	cart.Items = []domain.CartItem{
		{ItemID: "line-1", ProductRef: "1", UnitPrice: decimal.NewFromInt(100), Quantity: 2, Variant: domain.DefaultVariant},
		{ItemID: "line-2", ProductRef: "2", UnitPrice: decimal.NewFromInt(50), Quantity: 1, Variant: domain.DefaultVariant},
	}
	cart.Recalculate()
	return cart, nil
}

func (c *stubCartStore) RemoveLines(_ context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
		c.taken = make(map[string][]domain.CartLineRef)
	}
	c.calls[ownerKey]++
	c.taken[ownerKey] = append(c.taken[ownerKey], taken...)
	return domain.EmptyCart(ownerKey), nil
}

func (c *stubCartStore) Count(ownerKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[ownerKey]
}

func (c *stubCartStore) Taken(ownerKey string) []domain.CartLineRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taken[ownerKey]
}
