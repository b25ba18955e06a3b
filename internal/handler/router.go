package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avoronin/cargoflow/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса cargoflow.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Post("/tariffs/calculate", h.QuoteShipping)
		r.Post("/calculator/shipping", h.QuoteShipping)
		r.Get("/tariffs", h.ListTariffs)

		r.Get("/orders/track/{track}", h.TrackOrder)

		r.Post("/payments/webhook/{provider}", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/balance", h.GetBalance)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Get("/orders/{id}/history", h.GetOrderHistory)
			r.Post("/orders/{id}/cancel", h.CancelOrder)

			r.Post("/payments/create", h.CreatePayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(h.authMiddleware.RequireAdmin)

			r.Post("/payments/refund", h.Refund)

			r.Post("/admin/tariffs", h.CreateTariff)
			r.Put("/admin/tariffs/{id}", h.UpdateTariff)
			r.Delete("/admin/tariffs/{id}", h.DeactivateTariff)

			r.Post("/admin/orders/{id}/status", h.UpdateOrderStatus)
			r.Post("/admin/orders/status", h.BulkUpdateOrderStatus)
			r.Post("/admin/users/{id}/ban", h.SetUserBanned)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}
