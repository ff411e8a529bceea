package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ibrokxim/bitrix-telegram/internal/metrics"
	custommiddleware "github.com/ibrokxim/bitrix-telegram/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook/bitrix/deal", h.BitrixDealEvent)
		r.Post("/webhook/telegram", h.TelegramUpdate)

		r.Post("/register", h.Register)
		r.Post("/process-user-request", h.ProcessUserRequest)
		r.Get("/check-auth", h.CheckAuth)

		r.Post("/place-order", h.PlaceOrder)

		r.Get("/catalogs", h.Catalogs)
		r.Get("/products/category/{sectionID}", h.ProductsByCategory)
		r.Get("/product/{id}", h.ProductByID)
		r.Post("/catalogs/invalidate", h.InvalidateCatalog)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
