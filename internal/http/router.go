package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_pay/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Cart     *CartHandler
	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Webhooks *WebhookHandler
}

// NewRouter mounts the public API. Webhooks are authenticated by signature, every other
// /api/v1 route by the gateway-provided user header.
func NewRouter(hs Handlers, m *metrics.Metrics, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware(m))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/payments", hs.Webhooks.Receive)

		r.Group(func(r chi.Router) {
			r.Use(UserIDMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", hs.Cart.GetCart)
				r.Post("/items", hs.Cart.AddItem)
				r.Delete("/items/{item_id}", hs.Cart.RemoveItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", hs.Orders.CreateOrder)
				r.Get("/", hs.Orders.ListOrders)
				r.Get("/{order_id}", hs.Orders.GetOrder)
			})

			r.Route("/payment-methods", func(r chi.Router) {
				r.Get("/", hs.Payments.ListMethods)
				r.Post("/", hs.Payments.AddMethod)
				r.Delete("/{payment_method_id}", hs.Payments.DeleteMethod)
			})

			r.Post("/payments/intent", hs.Payments.CreateIntent)
		})
	})

	return r
}
