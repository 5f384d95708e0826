// Package api wires the HTTP surface: router, middleware chain and
// route groups per key kind.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/api/middleware"
	"github.com/tetherchat/tether/internal/auth"
	"github.com/tetherchat/tether/internal/handlers"
)

// NewRouter creates and configures the HTTP router. The widget group
// authenticates with public keys (origin-gated); the dashboard group
// with secret keys.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, engine *auth.Engine) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(32 * 1024)) // 32KB max body

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins; the auth engine's origin gate is the
	// real control, and it runs with tenant context CORS cannot have.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tether-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authmw := middleware.NewAuthMiddleware(engine)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Widget routes (public key + origin gate)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequirePublicKey)

		r.Get("/realtime", h.Realtime)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)

			r.Post("/conversations", h.CreateConversation)
			r.Get("/conversations/{id}", h.GetConversation)
			r.Post("/conversations/{id}/messages", h.PostMessage)
			r.Get("/conversations/{id}/messages", h.ListMessages)
			r.Post("/presence/heartbeat", h.Heartbeat)
			r.Post("/presence/goodbye", h.Goodbye)
		})
	})

	// Dashboard routes (secret key)
	r.Route("/v1", func(r chi.Router) {
		r.Use(authmw.RequireSecretKey)

		r.Get("/realtime", h.Realtime)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)

			r.Post("/websites", h.CreateWebsite)
			r.Get("/websites/{id}", h.GetWebsite)
			r.Put("/websites/{id}/domains", h.UpdateWebsiteDomains)
			r.Get("/websites/{id}/keys", h.ListWebsiteKeys)
			r.Post("/keys/{id}/revoke", h.RevokeKey)

			r.Get("/conversations", h.ListConversations)
			r.Get("/conversations/{id}", h.GetConversation)
			r.Put("/conversations/{id}/status", h.UpdateConversationStatus)
			r.Put("/conversations/{id}/assignee", h.AssignConversation)
			r.Delete("/conversations/{id}", h.DeleteConversation)
			r.Post("/conversations/{id}/messages", h.PostMessage)
			r.Get("/conversations/{id}/messages", h.ListMessages)
			r.Put("/conversations/{id}/messages/{messageID}", h.EditMessage)
		})
	})

	return r
}
