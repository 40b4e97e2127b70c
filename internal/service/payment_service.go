package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/payment"
	"github.com/Hawyaa/alora-backend/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type PaymentService struct {
	orders     repository.OrderRepository
	gateway    payment.Gateway
	reconciler *ReconciliationService
	returnURL  string
	log        *slog.Logger
	sfg        singleflight.Group // one provider call per order at a time
}

func NewPaymentService(orders repository.OrderRepository, gateway payment.Gateway, reconciler *ReconciliationService, returnURL string, log *slog.Logger) *PaymentService {
	if log == nil {
		log = logger.Discard()
	}
	return &PaymentService{
		orders:     orders,
		gateway:    gateway,
		reconciler: reconciler,
		returnURL:  returnURL,
		log:        log,
	}
}

// RequestSession opens (or returns the already opened) hosted checkout for an online pending order.
func (s *PaymentService) RequestSession(ctx context.Context, orderID uuid.UUID, caller Caller, returnURL string) (*domain.PaymentSession, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !caller.CanPay(order) {
		return nil, domain.ErrForbidden
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return nil, domain.NewValidationError(domain.CodeInvalidPayment, "only online orders can be paid through the provider")
	}
	if order.HasPaymentSession() {
		return storedSession(order), nil
	}
	if order.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, domain.ErrInvalidTransition)
	}

	v, err, _ := s.sfg.Do(orderID.String(), func() (interface{}, error) {
		return s.openSession(ctx, order, returnURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.PaymentSession), nil
}

func (s *PaymentService) openSession(ctx context.Context, order *domain.Order, returnURL string) (*domain.PaymentSession, error) {
	txRef := payment.NewTxRef()
	first, last := payment.SplitName(order.Customer.Name)

	checkoutURL, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		TxRef:     txRef,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		Email:     order.Customer.Email,
		FirstName: first,
		LastName:  last,
		Phone:     order.Customer.Phone,
		ReturnURL: s.buildReturnURL(returnURL, txRef),
	})
	if err != nil {
		s.log.WarnContext(ctx, "payment initialization failed", "order_id", order.ID, "error", err)
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	stored, err := s.orders.SetPaymentSession(ctx, order.ID, txRef, checkoutURL)
	if err != nil {
		return nil, fmt.Errorf("store payment session: %w", err)
	}
	if stored {
		s.log.InfoContext(ctx, "payment session opened", "order_id", order.ID, "tx_ref", txRef)
		return &domain.PaymentSession{OrderID: order.ID, TxRef: txRef, CheckoutURL: checkoutURL}, nil
	}

	// another request won the race; hand back its session
	current, err := s.orders.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if current.HasPaymentSession() {
		return storedSession(current), nil
	}
	return nil, fmt.Errorf("order %s is %s: %w", current.ID, current.Status, domain.ErrInvalidTransition)
}

func (s *PaymentService) buildReturnURL(override, txRef string) string {
	base := override
	if base == "" {
		base = s.returnURL
	}
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("tx_ref", txRef)
	u.RawQuery = q.Encode()
	return u.String()
}

func storedSession(o *domain.Order) *domain.PaymentSession {
	return &domain.PaymentSession{OrderID: o.ID, TxRef: o.TxRef, CheckoutURL: o.CheckoutURL}
}

// Status returns the order behind txRef for its owner. A pending order is
// reconciled against the provider first; when the provider cannot be reached
// the stored status is returned unchanged.
func (s *PaymentService) Status(ctx context.Context, txRef string, caller Caller) (*domain.Order, error) {
	order, err := s.orders.GetOrderByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if !caller.CanView(order) {
		return nil, domain.ErrForbidden
	}
	if order.Status != domain.OrderStatusPending || s.reconciler == nil {
		return order, nil
	}

	reconciled, err := s.reconciler.Reconcile(ctx, txRef, domain.ProviderStatusUnknown)
	if err != nil {
		s.log.WarnContext(ctx, "status poll could not verify payment", "tx_ref", txRef, "error", err)
		return order, nil
	}
	if reconciled == nil {
		return order, nil
	}
	return reconciled, nil
}
