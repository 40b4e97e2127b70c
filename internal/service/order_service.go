package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/pricing"
	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxOrderNumberAttempts = 5
	maxTransitionAttempts  = 3
	DefaultCurrency        = "ETB"
)

// CartStore is the part of the cart service checkout depends on.
type CartStore interface {
	Snapshot(ctx context.Context, ownerKey string) (*domain.Cart, error)
	CartReleaser
}

type CheckoutItem struct {
	// CartItemID is set when the item was read from the stored cart.
	CartItemID string
	ProductRef string
	Name       string
	UnitPrice  decimal.Decimal
	Quantity   int
	Variant    string
}

type CheckoutRequest struct {
	// OwnerRef is the authenticated account, empty for guests.
	OwnerRef string
	// CartKey names the stored cart to snapshot when Items is empty. Only an order built
	// from that snapshot takes its lines off the cart once it settles.
	CartKey         string
	Items           []CheckoutItem
	Customer        domain.CustomerContact
	PaymentMethod   string
	DeliveryAddress *domain.Address
	Notes           string
}

type OrderService struct {
	repo     repository.OrderRepository
	carts    CartStore
	products ProductResolver
	pricing  *pricing.Engine
	currency string
	log      *slog.Logger
	now      func() time.Time
}

func NewOrderService(repo repository.OrderRepository, carts CartStore, products ProductResolver, engine *pricing.Engine, currency string, log *slog.Logger) *OrderService {
	if engine == nil {
		engine = pricing.NewDefaultEngine()
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	if log == nil {
		log = logger.Discard()
	}
	return &OrderService{
		repo:     repo,
		carts:    carts,
		products: products,
		pricing:  engine,
		currency: currency,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Checkout snapshots the request (or the stored cart), prices it once and persists a pending order.
func (s *OrderService) Checkout(ctx context.Context, req CheckoutRequest) (*domain.Order, error) {
	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		return nil, domain.NewValidationError(domain.CodeInvalidPayment, "payment method must be cash or online")
	}

	customer := req.Customer.Normalize()
	if customer.Name == "" || customer.Phone == "" {
		return nil, domain.ErrMissingCustomerInfo
	}

	items := req.Items
	cartKey := ""
	if len(items) == 0 && req.CartKey != "" && s.carts != nil {
		cart, err := s.carts.Snapshot(ctx, req.CartKey)
		if err != nil {
			return nil, err
		}
		items = itemsFromCart(cart)
		cartKey = req.CartKey
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	lines, err := s.snapshotLines(ctx, items)
	if err != nil {
		return nil, err
	}
	quote := s.pricing.PriceOrderLines(lines)

	now := s.now()
	order := &domain.Order{
		ID:              uuid.New(),
		CartKey:         cartKey,
		Customer:        customer,
		Lines:           lines,
		Subtotal:        quote.Subtotal,
		Shipping:        quote.Shipping,
		Tax:             quote.Tax,
		TotalAmount:     quote.Total,
		Currency:        s.currency,
		DeliveryAddress: normalizeAddress(req.DeliveryAddress),
		Notes:           strings.TrimSpace(req.Notes),
		PaymentMethod:   method,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.OwnerRef != "" {
		owner := req.OwnerRef
		order.OwnerRef = &owner
	}

	if err := s.persist(ctx, order); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "order created",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"payment_method", order.PaymentMethod, "total_amount", order.TotalAmount.StringFixed(2))

	// online orders keep the cart until the payment is confirmed
	if method == domain.PaymentMethodCash && order.CartKey != "" {
		if _, err := s.carts.RemoveLines(ctx, order.CartKey, order.TakenCartLines()); err != nil {
			s.log.WarnContext(ctx, "release cart lines after cash checkout failed", "order_id", order.ID, "owner_key", order.CartKey, "error", err)
		}
	}
	return order, nil
}

func (s *OrderService) persist(ctx context.Context, order *domain.Order) error {
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = NewOrderNumber(order.CreatedAt)
		err := s.repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			return fmt.Errorf("create order: %w", err)
		}
		s.log.WarnContext(ctx, "order number collision, regenerating", "order_number", order.OrderNumber, "attempt", attempt)
	}
	return fmt.Errorf("create order: no unique order number after %d attempts", maxOrderNumberAttempts)
}

func (s *OrderService) snapshotLines(ctx context.Context, items []CheckoutItem) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if it.UnitPrice.IsNegative() {
			return nil, domain.NewValidationError(domain.CodeInvalidPrice, "unit price must not be negative")
		}
		if !it.UnitPrice.Equal(it.UnitPrice.Round(pricing.MoneyPlaces)) {
			return nil, domain.NewValidationError(domain.CodeInvalidPrice, "unit price has more than two decimal places")
		}
		ref := strings.TrimSpace(it.ProductRef)
		if ref == "" {
			return nil, domain.NewValidationError(domain.CodeInvalidRequest, "every line needs a product reference")
		}

		line := domain.OrderLine{
			ProductRef: ref,
			Name:       strings.TrimSpace(it.Name),
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			Variant:    domain.NormalizeVariant(it.Variant),
			CartItemID: it.CartItemID,
		}

		product, err := s.products.ResolveProduct(ctx, ref)
		switch {
		case err == nil:
			line.Resolved = true
			if line.Name == "" {
				line.Name = product.Name
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, fmt.Errorf("resolve product %s: %w", ref, err)
		}
		if line.Name == "" {
			line.Name = ref
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func itemsFromCart(cart *domain.Cart) []CheckoutItem {
	items := make([]CheckoutItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, CheckoutItem{
			CartItemID: it.ItemID,
			ProductRef: it.ProductRef,
			Name:       it.DisplayName,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			Variant:    it.Variant,
		})
	}
	return items
}

func normalizeAddress(a *domain.Address) *domain.Address {
	if a == nil {
		return nil
	}
	out := domain.Address{
		Street:  strings.TrimSpace(a.Street),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		ZipCode: strings.TrimSpace(a.ZipCode),
		Country: strings.TrimSpace(a.Country),
	}
	if out == (domain.Address{}) {
		return nil
	}
	if out.Country == "" {
		out.Country = domain.DefaultCountry
	}
	return &out
}

func (s *OrderService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// GetForCaller returns the order if the caller owns it or is an admin.
func (s *OrderService) GetForCaller(ctx context.Context, id uuid.UUID, caller Caller) (*domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.CanView(order) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

// ListByOwner returns the account's orders, newest first.
func (s *OrderService) ListByOwner(ctx context.Context, ownerRef string) ([]*domain.Order, error) {
	return s.repo.ListOrdersByOwner(ctx, ownerRef)
}

// UpdateStatus applies an administrative status change. Payment outcomes are
// reserved for reconciliation and reapplying a terminal status is a no-op.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.OrderStatus) (*domain.Order, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := s.repo.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Status == next && next.IsTerminal() {
			return order, nil
		}
		if next.IsPaymentOutcome() || !order.Status.CanTransitionTo(next) {
			return nil, &domain.TransitionError{From: order.Status, To: next}
		}

		at := s.now()
		ok, err := s.repo.TransitionStatus(ctx, id, order.Status, next, at)
		if err != nil {
			return nil, fmt.Errorf("update order status: %w", err)
		}
		if ok {
			s.log.InfoContext(ctx, "order status changed", "order_id", id, "from", order.Status, "to", next)
			order.Status = next
			order.UpdatedAt = at
			return order, nil
		}
	}
	return nil, fmt.Errorf("update order %s: status kept changing underneath: %w", id, domain.ErrInvalidTransition)
}

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXX with six random uppercase alphanumerics.
func NewOrderNumber(t time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", t.UTC().Format("20060102"), rand.Text()[:6])
}
