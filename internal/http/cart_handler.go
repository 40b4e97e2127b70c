package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/go-chi/chi/v5"
)

type CartHandler struct {
	carts   *service.CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts *service.CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Shade     string `json:"shade,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.withOwner(w, r, func(ctx context.Context, ownerKey string) (*domain.Cart, error) {
		return h.carts.GetCart(ctx, ownerKey)
	})
}

// POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		respondError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "productId is required")
		return
	}
	h.withOwner(w, r, func(ctx context.Context, ownerKey string) (*domain.Cart, error) {
		return h.carts.AddItem(ctx, ownerKey, req.ProductID, req.Quantity, req.Shade)
	})
}

// PUT /api/cart/items/{itemId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	itemID := chi.URLParam(r, "itemId")
	h.withOwner(w, r, func(ctx context.Context, ownerKey string) (*domain.Cart, error) {
		return h.carts.UpdateQuantity(ctx, ownerKey, itemID, req.Quantity)
	})
}

// DELETE /api/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	h.withOwner(w, r, func(ctx context.Context, ownerKey string) (*domain.Cart, error) {
		return h.carts.RemoveItem(ctx, ownerKey, itemID)
	})
}

// DELETE /api/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.withOwner(w, r, func(ctx context.Context, ownerKey string) (*domain.Cart, error) {
		return h.carts.ClearCart(ctx, ownerKey)
	})
}

func (h *CartHandler) withOwner(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ownerKey string) (*domain.Cart, error)) {
	ownerKey, ok := cartOwnerKey(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in or send "+GuestSessionHeader)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := fn(ctx, ownerKey)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
