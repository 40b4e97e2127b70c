package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(productRef string, qty int, variant string) domain.CartItem {
	return domain.CartItem{
		ItemID:      uuid.NewString(),
		ProductRef:  productRef,
		DisplayName: "Lipgloss " + productRef,
		UnitPrice:   decimal.RequireFromString("24.99"),
		Quantity:    qty,
		Variant:     variant,
	}
}

func TestMemoryCart_GetCart_NotFound(t *testing.T) {
	repo := NewMemoryCartRepository()

	cart, err := repo.GetCart(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestMemoryCart_AddItem_CreatesCartAndMerges(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	cart, err := repo.AddItem(ctx, "user-1", newItem("1", 2, ""))
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, domain.DefaultVariant, cart.Items[0].Variant)
	assert.Equal(t, int64(1), cart.Version)

	cart, err = repo.AddItem(ctx, "user-1", newItem("1", 3, domain.DefaultVariant))
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("124.95").Equal(cart.DerivedTotal))

	cart, err = repo.AddItem(ctx, "user-1", newItem("1", 1, "Ruby Red"))
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestMemoryCart_UpdateAndRemove(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	cart, err := repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	require.NoError(t, err)
	itemID := cart.Items[0].ItemID

	cart, err = repo.UpdateItemQuantity(ctx, "user-1", itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	_, err = repo.UpdateItemQuantity(ctx, "user-1", "missing", 4)
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cart, err = repo.RemoveItem(ctx, "user-1", itemID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.DerivedTotal.IsZero())

	_, err = repo.RemoveItem(ctx, "user-1", itemID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestMemoryCart_FailedMutationLeavesCartUntouched(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	before, err := repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	require.NoError(t, err)

	_, err = repo.RemoveItem(ctx, "user-1", "missing")
	require.Error(t, err)

	after, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
}

func TestMemoryCart_ClearKeepsCart(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	_, err := repo.ClearCart(ctx, "user-1")
	assert.ErrorIs(t, err, ErrCartNotFound)

	_, err = repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	require.NoError(t, err)

	cart, err := repo.ClearCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	cart, err = repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.NotNil(t, cart.Items)
	assert.Empty(t, cart.Items)
}

func TestMemoryCart_RemoveLinesKeepsLaterAdditions(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	_, err := repo.RemoveLines(ctx, "user-1", []domain.CartLineRef{{ItemID: "x", Quantity: 1}})
	assert.ErrorIs(t, err, ErrCartNotFound)

	_, err = repo.AddItem(ctx, "user-1", newItem("1", 2, ""))
	require.NoError(t, err)
	snapshot, err := repo.AddItem(ctx, "user-1", newItem("2", 1, ""))
	require.NoError(t, err)

	// added after the snapshot: one more of product 1 and a new product 3
	_, err = repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	require.NoError(t, err)
	_, err = repo.AddItem(ctx, "user-1", newItem("3", 4, ""))
	require.NoError(t, err)

	taken := make([]domain.CartLineRef, 0, len(snapshot.Items))
	for _, it := range snapshot.Items {
		taken = append(taken, domain.CartLineRef{ItemID: it.ItemID, Quantity: it.Quantity})
	}
	cart, err := repo.RemoveLines(ctx, "user-1", taken)
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	assert.Equal(t, "1", cart.Items[0].ProductRef)
	assert.Equal(t, 1, cart.Items[0].Quantity)
	assert.Equal(t, "3", cart.Items[1].ProductRef)
	assert.Equal(t, 4, cart.Items[1].Quantity)
	assert.Greater(t, cart.Version, snapshot.Version)
}

func TestMemoryCart_ReturnedCartIsACopy(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	cart, err := repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	require.NoError(t, err)
	cart.Items[0].Quantity = 99

	stored, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestMemoryCart_ConcurrentAddsSameLine(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := repo.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, workers, cart.Items[0].Quantity)
	assert.Equal(t, int64(workers), cart.Version)
}

func TestMemoryCart_CancelledContext(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.AddItem(ctx, "user-1", newItem("1", 1, ""))
	assert.ErrorIs(t, err, context.Canceled)
}
