package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type PaymentHandler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	recon    *service.ReconciliationService
	timeout  time.Duration
	log      *slog.Logger
}

func NewPaymentHandler(orders *service.OrderService, payments *service.PaymentService, recon *service.ReconciliationService, timeout time.Duration, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		orders:   orders,
		payments: payments,
		recon:    recon,
		timeout:  timeout,
		log:      log,
	}
}

// InitializePaymentRequestDTO carries either an existing order id or a full checkout payload.
type InitializePaymentRequestDTO struct {
	OrderID   string `json:"orderId,omitempty"`
	ReturnURL string `json:"returnUrl,omitempty"`
	CheckoutRequestDTO
}

type PaymentSessionDTO struct {
	OrderID     string `json:"orderId"`
	TxRef       string `json:"txRef"`
	CheckoutURL string `json:"checkoutUrl"`
}

type PaymentStatusDTO struct {
	OrderID     string     `json:"orderId"`
	OrderNumber string     `json:"orderNumber"`
	Status      string     `json:"status"`
	TxRef       string     `json:"txRef"`
	PaidAt      *time.Time `json:"paidAt"`
}

// POST /api/payment/initialize
func (h *PaymentHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializePaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	caller := callerFrom(r.Context())

	var orderID uuid.UUID
	created := false
	if req.OrderID != "" {
		id, err := uuid.Parse(req.OrderID)
		if err != nil {
			respondError(w, http.StatusBadRequest, domain.CodeInvalidRequest, "orderId must be a UUID")
			return
		}
		orderID = id
	} else {
		checkout := toCheckoutRequest(r, req.CheckoutRequestDTO)
		checkout.PaymentMethod = string(domain.PaymentMethodOnline)
		order, err := h.orders.Checkout(ctx, checkout)
		if err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
		orderID = order.ID
		created = true
	}

	session, err := h.payments.RequestSession(ctx, orderID, caller, req.ReturnURL)
	if err != nil {
		status, body := serviceErrorResponse(r, h.log, err)
		// the order stays pending; the client retries with its id instead of checking out again
		if created {
			body.OrderID = orderID.String()
		}
		respondJSON(w, status, body)
		return
	}

	respondJSON(w, http.StatusOK, PaymentSessionDTO{
		OrderID:     session.OrderID.String(),
		TxRef:       session.TxRef,
		CheckoutURL: session.CheckoutURL,
	})
}

type callbackDTO struct {
	TxRef    string `json:"tx_ref"`
	TxRefAlt string `json:"txRef"`
	TrxRef   string `json:"trx_ref"`
	Status   string `json:"status"`
}

// Callback handles POST and GET /api/payment/callback. The provider only needs an
// acknowledgement, so every outcome answers 200; reconciliation failures are logged.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var body callbackDTO
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			h.log.WarnContext(r.Context(), "payment callback body unreadable", "error", err)
		}
	}
	q := r.URL.Query()
	txRef := firstNonEmpty(body.TxRef, body.TxRefAlt, body.TrxRef, q.Get("tx_ref"), q.Get("trx_ref"), q.Get("txRef"))
	status := firstNonEmpty(body.Status, q.Get("status"))

	if txRef == "" {
		h.log.WarnContext(r.Context(), "payment callback without transaction reference")
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.recon.Reconcile(ctx, txRef, domain.ParseProviderStatus(status)); err != nil {
		h.log.WarnContext(ctx, "payment callback reconciliation failed", "tx_ref", txRef, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GET /api/payment/status/{txRef}
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.payments.Status(ctx, chi.URLParam(r, "txRef"), callerFrom(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, PaymentStatusDTO{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		TxRef:       order.TxRef,
		PaidAt:      order.PaidAt,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
