package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound         = errors.New("cart not found")
	ErrItemNotFound         = fmt.Errorf("cart item %w", domain.ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrDuplicateOrderNumber = errors.New("order number already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CartRepository defines the interface for cart data operations.
// Every mutation is atomic per owner key and returns the cart as stored after the change.
type CartRepository interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	// AddItem increments the line matching productRef + variant, or appends item when none matches.
	AddItem(ctx context.Context, ownerKey string, item domain.CartItem) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, ownerKey, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, ownerKey, itemID string) (*domain.Cart, error)
	// ClearCart empties the lines but keeps the cart.
	ClearCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	// RemoveLines subtracts each taken quantity from its line and drops lines that reach zero.
	// Lines added or topped up after the snapshot keep the difference; unknown item ids are ignored.
	RemoveLines(ctx context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error)
}

type OrderRepository interface {
	// CreateOrder persists the order, its lines and an order.created event atomically.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByTxRef(ctx context.Context, txRef string) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerRef string) ([]*domain.Order, error)
	// SetPaymentSession records txRef only if the order is pending and has none yet.
	SetPaymentSession(ctx context.Context, id uuid.UUID, txRef, checkoutURL string) (bool, error)
	// TransitionStatus moves the order from -> to only if its current status is from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, at time.Time) (bool, error)
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type orderCreatedPayload struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	OwnerRef      *string   `json:"owner_ref"`
	TotalAmount   string    `json:"total_amount"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"payment_method"`
	Lines         int       `json:"lines"`
	CreatedAt     time.Time `json:"created_at"`
}

type statusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

func orderCreatedEvent(o *domain.Order) ([]byte, error) {
	return json.Marshal(orderCreatedPayload{
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		OwnerRef:      o.OwnerRef,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
		Lines:         len(o.Lines),
		CreatedAt:     o.CreatedAt,
	})
}

func statusChangedEvent(id uuid.UUID, from, to domain.OrderStatus, at time.Time) ([]byte, error) {
	return json.Marshal(statusChangedPayload{
		OrderID:   id.String(),
		From:      string(from),
		To:        string(to),
		ChangedAt: at,
	})
}
