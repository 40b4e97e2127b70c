package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	JWTSecret          string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Services struct {
	Carts          *service.CartService
	Orders         *service.OrderService
	Payments       *service.PaymentService
	Reconciliation *service.ReconciliationService
}

// NewRouter wires every storefront route onto a chi router wrapped in OpenTelemetry instrumentation.
func NewRouter(cfg RouterConfig, svc Services, log *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20
	}

	auth := NewAuthenticator(cfg.JWTSecret)
	carts := NewCartHandler(svc.Carts, cfg.RequestTimeout, log)
	checkout := NewCheckoutHandler(svc.Orders, cfg.RequestTimeout, log)
	payments := NewPaymentHandler(svc.Orders, svc.Payments, svc.Reconciliation, cfg.RequestTimeout, log)
	orders := NewOrdersHandler(svc.Orders, cfg.RequestTimeout, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))
	r.Use(middleware.Compress(5))

	health := func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.Get("/health", health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)

		// the provider calls back without credentials
		r.Post("/payment/callback", payments.Callback)
		r.Get("/payment/callback", payments.Callback)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Post("/checkout", checkout.Checkout)
			r.Post("/payment/initialize", payments.Initialize)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", carts.GetCart)
				r.Delete("/", carts.ClearCart)
				r.Post("/items", carts.AddItem)
				r.Put("/items/{itemId}", carts.UpdateQuantity)
				r.Delete("/items/{itemId}", carts.RemoveItem)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireAuth)
				r.Get("/payment/status/{txRef}", payments.Status)
				r.Get("/orders", orders.ListOrders)
				r.Get("/orders/{orderId}", orders.GetOrder)
			})

			r.With(RequireAdmin).Patch("/orders/{orderId}/status", orders.UpdateStatus)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
