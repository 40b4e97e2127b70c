package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*PostgresOrderRepository, func()) {
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	db, err := ConnectPostgres(creds)
	require.NoError(t, err)
	require.NoError(t, RunPostgresMigrations(db, creds.MigrationsDirPath))

	cleanup := func() {
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return NewPostgresOrderRepository(db), cleanup
}

func TestPostgresOrder_CreateAndGet(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("ORD-20240101-AAAAAA", strPtr("user-123"))
	order.DeliveryAddress = &domain.Address{City: "Addis Ababa", Country: domain.DefaultCountry}
	require.NoError(t, repo.CreateOrder(ctx, order))

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, fetched.OrderNumber)
	require.NotNil(t, fetched.OwnerRef)
	assert.Equal(t, "user-123", *fetched.OwnerRef)
	assert.Equal(t, "user-123", fetched.CartKey)
	assert.True(t, order.TotalAmount.Equal(fetched.TotalAmount))
	require.NotNil(t, fetched.DeliveryAddress)
	assert.Equal(t, "Addis Ababa", fetched.DeliveryAddress.City)
	require.Len(t, fetched.Lines, 1)
	assert.True(t, fetched.Lines[0].Resolved)
	assert.Equal(t, "item-1", fetched.Lines[0].CartItemID)
	assert.True(t, order.Lines[0].UnitPrice.Equal(fetched.Lines[0].UnitPrice))
	assert.Empty(t, fetched.TxRef)
	assert.Nil(t, fetched.PaidAt)
}

func TestPostgresOrder_GetOrderByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetOrderByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPostgresOrder_DuplicateOrderNumber(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.CreateOrder(ctx, newTestOrder("ORD-20240101-AAAAAA", nil)))
	err := repo.CreateOrder(ctx, newTestOrder("ORD-20240101-AAAAAA", nil))
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)
}

func TestPostgresOrder_ListOrdersByOwner(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	older := newTestOrder("ORD-20240101-AAAAAA", strPtr("user-123"))
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newTestOrder("ORD-20240101-BBBBBB", strPtr("user-123"))
	guest := newTestOrder("ORD-20240101-CCCCCC", nil)
	for _, o := range []*domain.Order{older, newer, guest} {
		require.NoError(t, repo.CreateOrder(ctx, o))
	}

	orders, err := repo.ListOrdersByOwner(ctx, "user-123")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, newer.ID, orders[0].ID)
	assert.Len(t, orders[1].Lines, 1)

	orders, err = repo.ListOrdersByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPostgresOrder_PaymentSessionAndTransition(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("ORD-20240101-AAAAAA", nil)
	require.NoError(t, repo.CreateOrder(ctx, order))

	ok, err := repo.SetPaymentSession(ctx, order.ID, "alora-1-aaaa", "https://checkout/1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetPaymentSession(ctx, order.ID, "alora-2-bbbb", "https://checkout/2")
	require.NoError(t, err)
	assert.False(t, ok)

	byRef, err := repo.GetOrderByTxRef(ctx, "alora-1-aaaa")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byRef.ID)
	assert.Equal(t, "https://checkout/1", byRef.CheckoutURL)

	at := time.Now().UTC().Truncate(time.Microsecond)
	ok, err = repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusFailed, at)
	require.NoError(t, err)
	assert.False(t, ok)

	fetched, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, fetched.Status)
	require.NotNil(t, fetched.PaidAt)
	assert.True(t, at.Equal(*fetched.PaidAt))
}

func TestPostgresOrder_OutboxEvents(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newTestOrder("ORD-20240101-AAAAAA", nil)
	require.NoError(t, repo.CreateOrder(ctx, order))
	_, err := repo.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusProcessing, time.Now())
	require.NoError(t, err)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID.String(), events[0].AggregateID)
	assert.Contains(t, string(events[0].Payload), order.OrderNumber)

	require.NoError(t, repo.MarkEventAsProcessed(ctx, events[0].ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderStatusChanged, events[0].EventType)
}
