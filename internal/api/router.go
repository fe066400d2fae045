package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mhollis/tally/internal/auth"
	"github.com/mhollis/tally/internal/billing"
	"github.com/mhollis/tally/internal/catalog"
	"github.com/mhollis/tally/internal/metrics"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Engine         *billing.Engine
	TeamManager    *billing.TeamManager
	TokenMeter     *billing.TokenMeter
	Catalog        *catalog.Catalog
	Auth           *auth.Service
	Metrics        *metrics.Metrics
	AdminKey       string
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Handlers.
	billingH := newBillingHandler(deps.Engine, deps.Metrics)
	teamH := newTeamHandler(deps.TeamManager, deps.Metrics)
	adminH := newAdminHandler(deps.Engine, deps.TokenMeter, deps.Catalog, deps.Metrics)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKey))

		ar.Post("/organizations", adminH.CreateOrganization)
		ar.Post("/charges", adminH.Charge)
		ar.Post("/tokens/charge", adminH.ChargeTokens)

		ar.Get("/usage", adminH.GetUsage)
		ar.Get("/usage/history", adminH.GetUsageHistory)

		ar.Get("/tariffs", adminH.ListTariffs)
		ar.Get("/features", adminH.ListFeatures)

		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}
	})

	// Organization-authed routes (require org API key).
	r.Route("/api/v1", func(or chi.Router) {
		or.Use(auth.OrgAuthMiddleware(deps.Auth))

		or.Get("/balance", billingH.GetBalance)
		or.Post("/balance/topup", billingH.TopUp)

		or.Get("/usage", billingH.GetUsageSummary)
		or.Get("/usage/history", billingH.GetUsageHistory)
		or.Get("/limits/{feature}", billingH.GetLimit)
		or.Get("/features", billingH.ListFeatures)

		or.Get("/team", teamH.GetTeam)
		or.Post("/team/members", teamH.AddMember)
		or.Delete("/team/members", teamH.RemoveMember)
		or.Post("/team/tariff", teamH.ChangeTariff)
	})

	return r
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}
