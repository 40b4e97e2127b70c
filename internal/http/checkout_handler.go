package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/shopspring/decimal"
)

type CheckoutHandler struct {
	orders  *service.OrderService
	timeout time.Duration
	log     *slog.Logger
}

func NewCheckoutHandler(orders *service.OrderService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		orders:  orders,
		timeout: timeout,
		log:     log,
	}
}

type CheckoutItemDTO struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Shade     string          `json:"shade,omitempty"`
}

type CheckoutRequestDTO struct {
	Items           []CheckoutItemDTO      `json:"items"`
	PaymentMethod   string                 `json:"paymentMethod"`
	DeliveryAddress *domain.Address        `json:"deliveryAddress,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
	CustomerInfo    domain.CustomerContact `json:"customerInfo"`
}

type CheckoutResponseDTO struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	TotalAmount string `json:"totalAmount"`
	Status      string `json:"status"`
}

// POST /api/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.Checkout(ctx, toCheckoutRequest(r, req))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		TotalAmount: order.TotalAmount.StringFixed(2),
		Status:      string(order.Status),
	})
}

func toCheckoutRequest(r *http.Request, dto CheckoutRequestDTO) service.CheckoutRequest {
	req := service.CheckoutRequest{
		OwnerRef:        callerFrom(r.Context()).OwnerRef,
		Customer:        dto.CustomerInfo,
		PaymentMethod:   dto.PaymentMethod,
		DeliveryAddress: dto.DeliveryAddress,
		Notes:           dto.Notes,
	}
	if ownerKey, ok := cartOwnerKey(r); ok {
		req.CartKey = ownerKey
	}
	for _, it := range dto.Items {
		req.Items = append(req.Items, service.CheckoutItem{
			ProductRef: it.ProductID,
			Name:       it.Name,
			UnitPrice:  it.Price,
			Quantity:   it.Quantity,
			Variant:    it.Shade,
		})
	}
	return req
}
