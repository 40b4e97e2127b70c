package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	accountKeyPrefix = "cart:user:"
	guestKeyPrefix   = "cart:guest:"

	// account carts outlive a browsing session; guest sessions churn
	accountBaseTTL = 30 * time.Minute
	guestBaseTTL   = 10 * time.Minute
	maxJitter      = 5 // minutes, exclusive

	// an empty cart flips to non-empty on the next add, which invalidates it anyway
	emptyCartTTL = time.Minute
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// RedisCache holds read-through copies of carts, keyed by owner kind.
type RedisCache struct {
	client *redis.Client
}

func (r *RedisCache) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(ownerKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if cart.OwnerKey != ownerKey {
		return nil, fmt.Errorf("cached cart for %q holds owner %q", ownerKey, cart.OwnerKey)
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}

	return &cart, nil
}

// Set stores the cart. Empty carts are kept briefly so a fresh session polling its cart stays off the store.
func (r *RedisCache) Set(ctx context.Context, ownerKey string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, cacheKey(ownerKey), payload, cartTTL(ownerKey, cart)).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, ownerKey string) error {
	if err := r.client.Del(ctx, cacheKey(ownerKey)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// cacheKey namespaces guest sessions apart from accounts, so a session id can never collide with a user id.
func cacheKey(ownerKey string) string {
	if domain.IsGuestOwner(ownerKey) {
		return guestKeyPrefix + strings.TrimPrefix(ownerKey, domain.GuestOwnerPrefix)
	}
	return accountKeyPrefix + ownerKey
}

// cartTTL jitters non-empty entries so that keys written together do not expire together.
func cartTTL(ownerKey string, cart *domain.Cart) time.Duration {
	if len(cart.Items) == 0 {
		return emptyCartTTL
	}
	base := accountBaseTTL
	if domain.IsGuestOwner(ownerKey) {
		base = guestBaseTTL
	}
	return base + time.Duration(rand.IntN(maxJitter))*time.Minute
}
