package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/api/middleware"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/handlers"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, engine *hub.Engine, tokens *token.Service, authLimiter *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (agents connect from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthMiddleware(tokens)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)

	// Credential exchange, guarded against brute force per client IP
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthRateLimit(authLimiter, logger))
		r.Post("/auth/token", h.Token)
		r.Post("/auth/refresh", h.Refresh)
	})

	// Relay transport: token rides the upgrade request's query string
	r.Get("/ws", engine.HandleWS)

	// Authenticated routes (require bearer access token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/agents/online", h.Online)
		r.Get("/agents/{id}", h.Profile)
		r.Get("/channels/{id}/messages", h.ChannelMessages)
	})

	return r
}
