package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/payment"
	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubCatalog struct{}

func (stubCatalog) ResolveProduct(_ context.Context, id string) (*domain.Product, error) {
	switch id {
	case "1":
		return &domain.Product{ID: "1", Name: "Sparkle Shine", Price: decimal.RequireFromString("24.99"), InStock: true}, nil
	case "2":
		return &domain.Product{ID: "2", Name: "Berry Bliss", Price: decimal.RequireFromString("26.99"), InStock: true}, nil
	}
	return nil, domain.ErrNotFound
}

type stubGateway struct {
	mu      sync.Mutex
	initErr error
	status  domain.ProviderStatus
	amount  decimal.Decimal
}

func (g *stubGateway) Initialize(_ context.Context, req payment.InitializeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return "", g.initErr
	}
	g.amount = req.Amount
	return "https://checkout.chapa.co/pay/" + req.TxRef, nil
}

func (g *stubGateway) Verify(_ context.Context, txRef string) (*domain.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &domain.Verification{TxRef: txRef, Status: g.status, Amount: g.amount, Currency: "ETB"}, nil
}

type testServer struct {
	handler http.Handler
	orders  *repository.MemoryOrderRepository
	gateway *stubGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Discard()
	orders := repository.NewMemoryOrderRepository()
	gateway := &stubGateway{status: domain.ProviderStatusSuccess}

	carts := service.NewCartService(repository.NewMemoryCartRepository(), nil, stubCatalog{}, log)
	orderSvc := service.NewOrderService(orders, carts, stubCatalog{}, nil, "ETB", log)
	recon := service.NewReconciliationService(orders, gateway, carts, time.Second, log)
	payments := service.NewPaymentService(orders, gateway, recon, "https://shop.example.com/payment/success", log)

	h := NewRouter(RouterConfig{JWTSecret: testSecret, RequestTimeout: 5 * time.Second}, Services{
		Carts:          carts,
		Orders:         orderSvc,
		Payments:       payments,
		Reconciliation: recon,
	}, log)
	return &testServer{handler: h, orders: orders, gateway: gateway}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type requestOpt func(*http.Request)

func withToken(tok string) requestOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withGuest(session string) requestOpt {
	return func(r *http.Request) { r.Header.Set(GuestSessionHeader, session) }
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, opts ...requestOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func checkoutBody(method string) map[string]interface{} {
	return map[string]interface{}{
		"items": []map[string]interface{}{
			{"productId": "1", "name": "Sparkle Shine", "price": 100, "quantity": 2},
			{"productId": "guest-sku", "name": "Other", "price": "50", "quantity": 1},
		},
		"paymentMethod": method,
		"customerInfo":  map[string]string{"name": "Abebe Bikila", "email": "abebe@example.com", "phone": "0911000000"},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckout_GuestCreatesOrder(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", checkoutBody(""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, "275.00", resp.TotalAmount)
	assert.Equal(t, "pending", resp.Status)
	assert.Regexp(t, `^ORD-\d{8}-[A-Z0-9]{6}$`, resp.OrderNumber)
}

func TestCheckout_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", map[string]interface{}{
		"customerInfo": map[string]string{"name": "A", "phone": "1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeEmptyCart, decode[ErrorResponse](t, rec).Code)

	body := checkoutBody("cash")
	body["customerInfo"] = map[string]string{"email": "x@example.com"}
	rec = s.do(t, http.MethodPost, "/api/checkout", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeMissingCustomerInfo, decode[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", checkoutBody("cash"), withToken("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/cart", nil, withToken(forged))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCart_GuestSessionFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/cart", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/cart/items", map[string]interface{}{"productId": "1", "quantity": 2, "shade": "Pink Blush"}, withGuest("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart := decode[domain.Cart](t, rec)
	assert.Equal(t, "guest:sess-1", cart.OwnerKey)
	require.Len(t, cart.Items, 1)
	assert.True(t, decimal.RequireFromString("49.98").Equal(cart.DerivedTotal))
	itemID := cart.Items[0].ItemID

	rec = s.do(t, http.MethodPut, "/api/cart/items/"+itemID, map[string]int{"quantity": 5}, withGuest("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[domain.Cart](t, rec).Items[0].Quantity)

	rec = s.do(t, http.MethodPost, "/api/cart/items", map[string]interface{}{"productId": "1", "quantity": 0}, withGuest("sess-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/cart/items", map[string]interface{}{"productId": "nope", "quantity": 1}, withGuest("sess-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/cart/items/unknown", nil, withGuest("sess-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/cart", nil, withGuest("sess-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Cart](t, rec).Items)

	rec = s.do(t, http.MethodDelete, "/api/cart", nil, withGuest("sess-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Cart](t, rec).Items)
}

func TestPaymentFlow_InitializeCallbackStatus(t *testing.T) {
	s := newTestServer(t)
	user := withToken(token(t, "user-1", ""))

	rec := s.do(t, http.MethodPost, "/api/cart/items", map[string]interface{}{"productId": "2", "quantity": 1}, user)
	require.Equal(t, http.StatusOK, rec.Code)

	// no items in the payload: the stored cart is checked out
	rec = s.do(t, http.MethodPost, "/api/payment/initialize", map[string]interface{}{
		"customerInfo": map[string]string{"name": "Abebe Bikila", "phone": "0911000000"},
	}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decode[PaymentSessionDTO](t, rec)
	assert.NotEmpty(t, session.TxRef)
	assert.Contains(t, session.CheckoutURL, session.TxRef)

	// the same order asked again returns the stored session
	rec = s.do(t, http.MethodPost, "/api/payment/initialize", map[string]string{"orderId": session.OrderID}, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.TxRef, decode[PaymentSessionDTO](t, rec).TxRef)

	rec = s.do(t, http.MethodGet, "/api/payment/status/"+session.TxRef, nil, withToken(token(t, "user-2", "")))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payment/callback", map[string]string{"tx_ref": session.TxRef, "status": "success"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/payment/status/"+session.TxRef, nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[PaymentStatusDTO](t, rec)
	assert.Equal(t, "paid", status.Status)
	assert.NotNil(t, status.PaidAt)

	assert.True(t, decimal.RequireFromString("34.15").Equal(s.gateway.amount))

	rec = s.do(t, http.MethodGet, "/api/cart", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[domain.Cart](t, rec).Items)
}

func TestPaymentCallback_AlwaysAcknowledges(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/payment/callback", map[string]string{"tx_ref": "alora-0-unknown0", "status": "success"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/payment/callback?trx_ref=alora-0-unknown0&status=success", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/callback", bytes.NewBufferString("garbage"))
	raw := httptest.NewRecorder()
	s.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusOK, raw.Code)
}

func TestPaymentInitialize_GatewayUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.gateway.initErr = domain.ErrGatewayUnavailable

	rec := s.do(t, http.MethodPost, "/api/payment/initialize", checkoutBody(""))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "gateway_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestPaymentInitialize_RetryAfterGatewayFailureReusesOrder(t *testing.T) {
	s := newTestServer(t)
	user := withToken(token(t, "user-1", ""))
	s.gateway.initErr = domain.ErrGatewayUnavailable

	rec := s.do(t, http.MethodPost, "/api/payment/initialize", checkoutBody(""), user)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	failed := decode[ErrorResponse](t, rec)
	assert.Equal(t, "gateway_unavailable", failed.Code)
	require.NotEmpty(t, failed.OrderID)

	s.gateway.mu.Lock()
	s.gateway.initErr = nil
	s.gateway.mu.Unlock()

	rec = s.do(t, http.MethodPost, "/api/payment/initialize", map[string]string{"orderId": failed.OrderID}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, failed.OrderID, decode[PaymentSessionDTO](t, rec).OrderID)

	orders, err := s.orders.ListOrdersByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestPaymentInitialize_CashOrderRejected(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/checkout", checkoutBody("cash"))
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode[CheckoutResponseDTO](t, rec).OrderID

	rec = s.do(t, http.MethodPost, "/api/payment/initialize", map[string]string{"orderId": orderID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payment/initialize", map[string]string{"orderId": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrders_AccessControl(t *testing.T) {
	s := newTestServer(t)
	owner := withToken(token(t, "user-1", ""))

	rec := s.do(t, http.MethodPost, "/api/checkout", checkoutBody("cash"), owner)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode[CheckoutResponseDTO](t, rec).OrderID

	rec = s.do(t, http.MethodGet, "/api/orders/"+orderID, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders/"+orderID, nil, withToken(token(t, "user-2", "")))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders/"+orderID, nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[domain.Order](t, rec)
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	rec = s.do(t, http.MethodGet, "/api/orders/"+orderID, nil, withToken(token(t, "admin-1", RoleAdmin)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders/00000000-0000-0000-0000-000000000000", nil, owner)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orders", nil, owner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListOrdersResponseDTO](t, rec).Orders, 1)
}

func TestOrders_AdminStatusUpdate(t *testing.T) {
	s := newTestServer(t)
	admin := withToken(token(t, "admin-1", RoleAdmin))

	rec := s.do(t, http.MethodPost, "/api/checkout", checkoutBody("cash"))
	require.Equal(t, http.StatusCreated, rec.Code)
	path := "/api/orders/" + decode[CheckoutResponseDTO](t, rec).OrderID + "/status"

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "processing"}, withToken(token(t, "user-1", "")))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "paid"}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "shipped"}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "bogus"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, path, map[string]string{"status": "processing"}, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusProcessing, decode[domain.Order](t, rec).Status)
}
