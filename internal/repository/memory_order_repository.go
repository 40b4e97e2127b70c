package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
)

// MemoryOrderRepository implements OrderRepository and OutboxRepository in process.
// Every method takes the single lock, so compare-and-set updates are trivially atomic.
type MemoryOrderRepository struct {
	mu       sync.RWMutex
	orders   map[uuid.UUID]*domain.Order
	byNumber map[string]uuid.UUID
	byTxRef  map[string]uuid.UUID
	events   []*OutboxEvent
	nextID   int64
	marked   map[int64]bool
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:   make(map[uuid.UUID]*domain.Order),
		byNumber: make(map[string]uuid.UUID),
		byTxRef:  make(map[string]uuid.UUID),
		marked:   make(map[int64]bool),
	}
}

func (m *MemoryOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event, err := orderCreatedEvent(order)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byNumber[order.OrderNumber]; taken {
		return ErrDuplicateOrderNumber
	}
	stored := cloneOrder(order)
	stored.TxRef = ""
	stored.CheckoutURL = ""
	stored.PaidAt = nil
	m.orders[order.ID] = stored
	m.byNumber[order.OrderNumber] = order.ID
	m.appendEvent(order.ID, EventOrderCreated, event, order.CreatedAt)
	return nil
}

func (m *MemoryOrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryOrderRepository) GetOrderByTxRef(ctx context.Context, txRef string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTxRef[txRef]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryOrderRepository) ListOrdersByOwner(ctx context.Context, ownerRef string) ([]*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if o.OwnedBy(ownerRef) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderNumber > out[j].OrderNumber
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryOrderRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, txRef, checkoutURL string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.TxRef != "" || o.Status != domain.OrderStatusPending {
		return false, nil
	}
	if _, taken := m.byTxRef[txRef]; taken {
		return false, nil
	}
	o.TxRef = txRef
	o.CheckoutURL = checkoutURL
	o.UpdatedAt = time.Now().UTC()
	m.byTxRef[txRef] = id
	return true, nil
}

func (m *MemoryOrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	event, err := statusChangedEvent(id, from, to, at)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	if to == domain.OrderStatusPaid {
		paidAt := at
		o.PaidAt = &paidAt
	}
	m.appendEvent(id, EventOrderStatusChanged, event, at)
	return true, nil
}

func (m *MemoryOrderRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*OutboxEvent
	for _, e := range m.events {
		if len(out) == limit {
			break
		}
		if m.marked[e.ID] {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryOrderRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[id] = true
	return nil
}

// appendEvent must be called with mu held.
func (m *MemoryOrderRepository) appendEvent(id uuid.UUID, eventType string, payload []byte, at time.Time) {
	m.nextID++
	m.events = append(m.events, &OutboxEvent{
		ID:          m.nextID,
		AggregateID: id.String(),
		EventType:   eventType,
		Payload:     json.RawMessage(payload),
		CreatedAt:   at,
	})
}

func cloneOrder(o *domain.Order) *domain.Order {
	out := *o
	out.Lines = make([]domain.OrderLine, len(o.Lines))
	copy(out.Lines, o.Lines)
	if o.OwnerRef != nil {
		ref := *o.OwnerRef
		out.OwnerRef = &ref
	}
	if o.DeliveryAddress != nil {
		addr := *o.DeliveryAddress
		out.DeliveryAddress = &addr
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		out.PaidAt = &t
	}
	return &out
}
