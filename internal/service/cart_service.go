package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hawyaa/alora-backend/internal/cache"
	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ProductResolver looks a product up in the catalog. It returns an error wrapping
// domain.ErrNotFound when the reference is unknown.
type ProductResolver interface {
	ResolveProduct(ctx context.Context, id string) (*domain.Product, error)
}

type CartService struct {
	repo     repository.CartRepository
	cache    cache.CartCache
	products ProductResolver
	log      *slog.Logger
	sfg      singleflight.Group // collapses concurrent cache misses for one owner
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, products ProductResolver, log *slog.Logger) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &CartService{
		repo:     repo,
		cache:    c,
		products: products,
		log:      log,
	}
}

// GetCart returns the owner's cart, or an empty one if nothing was ever added.
func (s *CartService) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(ownerKey, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ownerKey)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cart cache get failed", "owner_key", ownerKey, "error", err)
		}

		cart, err = s.Snapshot(ctx, ownerKey)
		if err != nil {
			return nil, err
		}
		// empty carts are cached too; the next add invalidates them
		if err := s.cache.Set(ctx, ownerKey, cart); err != nil {
			s.log.WarnContext(ctx, "cart cache set failed", "owner_key", ownerKey, "error", err)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// Snapshot reads the cart straight from the store, bypassing the cache.
func (s *CartService) Snapshot(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, ownerKey)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.EmptyCart(ownerKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) AddItem(ctx context.Context, ownerKey, productRef string, quantity int, variant string) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.products.ResolveProduct(ctx, productRef)
	if err != nil {
		return nil, err
	}
	if !product.InStock {
		return nil, fmt.Errorf("product %s is out of stock: %w", productRef, domain.ErrNotFound)
	}

	cart, err := s.repo.AddItem(ctx, ownerKey, domain.CartItem{
		ItemID:      uuid.NewString(),
		ProductRef:  product.ID,
		DisplayName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    quantity,
		Variant:     variant,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "add cart item failed", "owner_key", ownerKey, "product_ref", productRef, "error", err)
		return nil, err
	}

	s.invalidate(ctx, ownerKey)
	return cart, nil
}

// UpdateQuantity sets the line's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, ownerKey, itemID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, ownerKey, itemID)
	}

	cart, err := s.repo.UpdateItemQuantity(ctx, ownerKey, itemID, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerKey)
	return cart, nil
}

func (s *CartService) RemoveItem(ctx context.Context, ownerKey, itemID string) (*domain.Cart, error) {
	cart, err := s.repo.RemoveItem(ctx, ownerKey, itemID)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerKey)
	return cart, nil
}

// ClearCart empties the owner's cart. Clearing a cart that never existed succeeds.
func (s *CartService) ClearCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	cart, err := s.repo.ClearCart(ctx, ownerKey)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.EmptyCart(ownerKey), nil
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerKey)
	return cart, nil
}

// RemoveLines takes checked-out quantities off the owner's cart, leaving anything
// added since the snapshot in place. A cart that no longer exists is treated as empty.
func (s *CartService) RemoveLines(ctx context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error) {
	cart, err := s.repo.RemoveLines(ctx, ownerKey, taken)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.EmptyCart(ownerKey), nil
	}
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, ownerKey)
	return cart, nil
}

func (s *CartService) invalidate(ctx context.Context, ownerKey string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerKey); err != nil {
		s.log.WarnContext(ctx, "cart cache invalidate failed", "owner_key", ownerKey, "error", err)
	}
}
