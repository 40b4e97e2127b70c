package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

const orderColumns = `id, order_number, owner_ref, cart_key, customer_name, customer_email, customer_phone,
	subtotal, shipping, tax, total_amount, currency, delivery_address, notes, payment_method, status,
	tx_ref, checkout_url, created_at, updated_at, paid_at`

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	// lib/pq encodes []byte as bytea, so JSONB values travel as strings
	var address *string
	if order.DeliveryAddress != nil {
		b, err := json.Marshal(order.DeliveryAddress)
		if err != nil {
			return fmt.Errorf("marshal delivery address: %w", err)
		}
		s := string(b)
		address = &s
	}

	event, err := orderCreatedEvent(order)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULL, '', $17, $18, NULL)`,
		order.ID,
		order.OrderNumber,
		order.OwnerRef,
		order.CartKey,
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.Subtotal,
		order.Shipping,
		order.Tax,
		order.TotalAmount,
		order.Currency,
		address,
		order.Notes,
		string(order.PaymentMethod),
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "orders_order_number_key" {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_lines
			(order_id, line_no, product_ref, resolved, name, unit_price, quantity, variant, cart_item_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			order.ID, i, line.ProductRef, line.Resolved, line.Name, line.UnitPrice, line.Quantity, line.Variant, line.CartItemID)
		if err != nil {
			return fmt.Errorf("insert order line %d: %w", i, err)
		}
	}

	if err := insertEvent(ctx, tx, order.ID, EventOrderCreated, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PostgresOrderRepository) GetOrderByTxRef(ctx context.Context, txRef string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE tx_ref = $1`, txRef)
}

func (r *PostgresOrderRepository) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := r.loadLines(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (r *PostgresOrderRepository) ListOrdersByOwner(ctx context.Context, ownerRef string) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE owner_ref = $1 ORDER BY created_at DESC, order_number DESC`, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Lines = lines[o.ID]
	}
	return orders, nil
}

func (r *PostgresOrderRepository) SetPaymentSession(ctx context.Context, id uuid.UUID, txRef, checkoutURL string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE orders
		SET tx_ref = $2, checkout_url = $3, updated_at = NOW()
		WHERE id = $1 AND tx_ref IS NULL AND status = 'pending'`,
		id, txRef, checkoutURL)
	if err != nil {
		return false, fmt.Errorf("set payment session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set payment session rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresOrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, at time.Time) (bool, error) {
	event, err := statusChangedEvent(id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("marshal status event: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var paidAt *time.Time
	if to == domain.OrderStatusPaid {
		paidAt = &at
	}

	res, err := tx.ExecContext(ctx, `UPDATE orders
		SET status = $3, updated_at = $4, paid_at = COALESCE($5, paid_at)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at, paidAt)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := insertEvent(ctx, tx, id, EventOrderStatusChanged, event); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status change: %w", err)
	}
	return true, nil
}

func (r *PostgresOrderRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, aggregate_id, event_type, payload, created_at
		FROM order_outbox WHERE processed_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		e := &OutboxEvent{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresOrderRepository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE order_outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (r *PostgresOrderRepository) loadLines(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]domain.OrderLine, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, `SELECT order_id, product_ref, resolved, name, unit_price, quantity, variant, cart_item_id
		FROM order_lines WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, line_no`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]domain.OrderLine, len(ids))
	for rows.Next() {
		var orderID uuid.UUID
		var l domain.OrderLine
		if err := rows.Scan(&orderID, &l.ProductRef, &l.Resolved, &l.Name, &l.UnitPrice, &l.Quantity, &l.Variant, &l.CartItemID); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		out[orderID] = append(out[orderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o        domain.Order
		ownerRef sql.NullString
		address  []byte
		method   string
		status   string
		txRef    sql.NullString
		paidAt   sql.NullTime
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&ownerRef,
		&o.CartKey,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Subtotal,
		&o.Shipping,
		&o.Tax,
		&o.TotalAmount,
		&o.Currency,
		&address,
		&o.Notes,
		&method,
		&status,
		&txRef,
		&o.CheckoutURL,
		&o.CreatedAt,
		&o.UpdatedAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}

	if ownerRef.Valid {
		o.OwnerRef = &ownerRef.String
	}
	if len(address) > 0 {
		o.DeliveryAddress = &domain.Address{}
		if err := json.Unmarshal(address, o.DeliveryAddress); err != nil {
			return nil, fmt.Errorf("unmarshal delivery address: %w", err)
		}
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	o.TxRef = txRef.String
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID, eventType string, payload []byte) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		aggregateID, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
