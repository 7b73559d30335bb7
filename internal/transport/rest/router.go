package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ordercore/order-service/internal/transport/rest/response"
)

type RouterDeps struct {
	Handler *Handler

	// Limiter is optional; without it an in-process per-IP limiter is used.
	Limiter          RateLimiter
	RateLimitEnabled bool
	RateLimit        int
	RateWindow       time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RateLimitEnabled {
		if d.Limiter != nil {
			r.Use(RateLimitMiddleware(d.Limiter, d.RateLimit, d.RateWindow))
		} else {
			r.Use(LocalRateLimit(d.RateLimit, d.RateWindow))
		}
	}
	r.Use(SecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", d.Handler.CreateOrder)
		r.Get("/orders/{orderID}", d.Handler.GetOrder)
	})

	return r
}
