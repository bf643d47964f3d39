package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/stockhold/platform/health/http"
	platformobservability "github.com/shestoi/stockhold/platform/observability"
)

const healthTimeout = 2 * time.Second

// NewRouter создаёт chi роутер сервиса резервирования.
// checks проверяют зависимости для /health (postgres, redis, mongo).
func NewRouter(handler *Handler, logger *zap.Logger, checks ...platformhealth.Check) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	// trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("reservation", logger))
	}

	router.Post("/holds", handler.PostHolds)

	router.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.PostOrders)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetOrder(w, r, chi.URLParam(r, "id"))
		})
	})

	router.Post("/payments/webhook", handler.PostPaymentWebhook)

	router.Get("/products/{id}/stock", func(w http.ResponseWriter, r *http.Request) {
		handler.GetProductStock(w, r, chi.URLParam(r, "id"))
	})

	router.Get("/health", platformhealth.Handler(healthTimeout, checks...))

	return router
}
