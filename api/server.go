/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the browser client

ROUTE GROUPS:
  /api/users/*        Participants, ledger operations, advice
  /api/actions/*      Point rules
  /api/shop/*         Shop items
  /api/themes, theme  Theme catalog and selection
  /api/icons          Preset icons and uploads
  /api/admin/*        Password check
  /healthz            Readiness
  /metrics            Prometheus scrape

ADMIN GATE:
  Rename/delete of users and every catalog edit go through requireAdmin.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/points-park/metrics"
)

// RouterConfig holds router settings that do not belong to the handler.
type RouterConfig struct {
	AllowedOrigins []string

	// Gatherer backs /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", AdminHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/leaderboard", h.GetLeaderboard)

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.With(h.requireAdmin).Put("/{id}", h.RenameUser)
			r.With(h.requireAdmin).Delete("/{id}", h.DeleteUser)
			r.Post("/{id}/actions/{aid}", h.ApplyAction)
			r.Post("/{id}/purchases/{sid}", h.Purchase)
			r.Get("/{id}/advice", h.GetAdvice)
		})

		// Point rule routes
		r.Route("/actions", func(r chi.Router) {
			r.Get("/", h.ListActions)
			r.With(h.requireAdmin).Post("/", h.UpsertAction)
			r.With(h.requireAdmin).Delete("/{id}", h.DeleteAction)
		})

		// Shop routes
		r.Route("/shop", func(r chi.Router) {
			r.Get("/", h.ListShopItems)
			r.With(h.requireAdmin).Post("/", h.UpsertShopItem)
			r.With(h.requireAdmin).Delete("/{id}", h.DeleteShopItem)
		})

		r.Get("/suggestions/{kind}", h.GetSuggestion)

		// Look and feel
		r.Get("/themes", h.ListThemes)
		r.Put("/theme", h.SetTheme)
		r.Get("/icons", h.ListIcons)
		r.Post("/icons", h.UploadIcon)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/verify", h.VerifyAdmin)
		})
	})

	return r
}
