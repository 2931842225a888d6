// Package server provides HTTP server setup for the payments service.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i3lani/paywatch/common/httputil"
	"github.com/i3lani/paywatch/common/middleware"
	"github.com/i3lani/paywatch/payments/internal/auth"
	"github.com/i3lani/paywatch/payments/internal/handlers"
	"github.com/i3lani/paywatch/payments/internal/metrics"
)

// NewRouter constructs the chi router with payments API routes registered.
// Admin routes require a token with the admin role.
func NewRouter(h *handlers.Handler, tokens *auth.TokenManager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(instrument)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Health check endpoints
	r.Get("/healthz", h.HealthCheck)
	r.Get("/readyz", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", h.InitiatePayment)
		r.Get("/payments/{memo}", h.GetPayment)
		r.Post("/payments/{memo}/credits", h.SettleCredit)
		r.Post("/payments/{memo}/proceed-with-excess", h.ProceedWithExcess)

		r.Route("/admin", func(r chi.Router) {
			r.Use(tokens.RequireRole(auth.RoleAdmin))

			r.Post("/reconcile", h.Reconcile)
			r.Get("/review", h.ListReview)
			r.Post("/review/{id}/resolve", h.ResolveReview)
			r.Get("/untracked", h.ListUntracked)
			r.Post("/untracked/{id}/resolve", h.ResolveUntracked)
			r.Post("/payments/{memo}/refund", h.Refund)
			r.Get("/payments/{memo}/audit", h.AuditTrail)
			r.Get("/audit/search", h.SearchAudit)
		})
	})

	return r
}

// instrument records request durations labelled by route pattern, so
// memos and ids do not explode label cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
