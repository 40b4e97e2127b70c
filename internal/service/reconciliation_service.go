package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/logger"
	"github.com/Hawyaa/alora-backend/internal/payment"
	"github.com/Hawyaa/alora-backend/internal/repository"
)

const DefaultVerifyTimeout = 10 * time.Second

// CartReleaser takes an order's checked-out lines off the cart it came from.
type CartReleaser interface {
	RemoveLines(ctx context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error)
}

// ReconciliationService settles pending online orders against the provider's
// verified state. Callback claims are hints only; verification decides.
type ReconciliationService struct {
	orders        repository.OrderRepository
	gateway       payment.Gateway
	carts         CartReleaser
	verifyTimeout time.Duration
	log           *slog.Logger
	now           func() time.Time
}

func NewReconciliationService(orders repository.OrderRepository, gateway payment.Gateway, carts CartReleaser, verifyTimeout time.Duration, log *slog.Logger) *ReconciliationService {
	if verifyTimeout <= 0 {
		verifyTimeout = DefaultVerifyTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &ReconciliationService{
		orders:        orders,
		gateway:       gateway,
		carts:         carts,
		verifyTimeout: verifyTimeout,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile brings the order behind txRef in line with the provider. It returns
// (nil, nil) for an unknown reference and the stored order when nothing changes.
func (s *ReconciliationService) Reconcile(ctx context.Context, txRef string, claimed domain.ProviderStatus) (*domain.Order, error) {
	ctx = logger.WithAttrs(ctx, slog.String("tx_ref", txRef))

	order, err := s.orders.GetOrderByTxRef(ctx, txRef)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.InfoContext(ctx, "reconcile: unknown transaction reference")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return order, nil
	}

	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	verification, err := s.gateway.Verify(vctx, txRef)
	cancel()
	if err != nil {
		s.log.WarnContext(ctx, "reconcile: verification unavailable", "order_id", order.ID, "error", err)
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}

	matches := verification.Amount.Equal(order.TotalAmount) &&
		strings.EqualFold(verification.Currency, order.Currency)

	switch {
	case verification.Status == domain.ProviderStatusSuccess && matches:
		return s.settle(ctx, order, domain.OrderStatusPaid)
	case claimed == domain.ProviderStatusSuccess || verification.Status == domain.ProviderStatusSuccess:
		s.log.ErrorContext(ctx, "reconcile: payment claim disagrees with provider",
			"order_id", order.ID,
			"error", domain.ErrReconciliationMismatch,
			"claimed", string(claimed),
			"verified", string(verification.Status),
			"verified_amount", verification.Amount.String(),
			"verified_currency", verification.Currency,
			"order_amount", order.TotalAmount.StringFixed(2),
		)
		return s.settle(ctx, order, domain.OrderStatusFailed)
	case verification.Status == domain.ProviderStatusFailed:
		return s.settle(ctx, order, domain.OrderStatusFailed)
	}
	return order, nil
}

// settle moves a pending order to its payment outcome. Only the caller that wins
// the compare-and-set performs the side effects.
func (s *ReconciliationService) settle(ctx context.Context, order *domain.Order, to domain.OrderStatus) (*domain.Order, error) {
	at := s.now()
	won, err := s.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, to, at)
	if err != nil {
		return nil, fmt.Errorf("settle order %s: %w", order.ID, err)
	}
	if !won {
		return s.orders.GetOrderByID(ctx, order.ID)
	}

	s.log.InfoContext(ctx, "order payment settled", "order_id", order.ID, "status", to)
	order.Status = to
	order.UpdatedAt = at
	if to != domain.OrderStatusPaid {
		return order, nil
	}
	order.PaidAt = &at

	if order.CartKey != "" && s.carts != nil {
		if _, err := s.carts.RemoveLines(ctx, order.CartKey, order.TakenCartLines()); err != nil {
			s.log.ErrorContext(ctx, "release cart lines after payment failed", "order_id", order.ID, "owner_key", order.CartKey, "error", err)
		}
	}
	return order, nil
}
