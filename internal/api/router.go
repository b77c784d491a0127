package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stumn/Chatment-sub001/internal/api/middleware"
	"github.com/stumn/Chatment-sub001/internal/handlers"
	"github.com/stumn/Chatment-sub001/internal/session"
	"github.com/stumn/Chatment-sub001/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be nil;
// rate limiting and presence degrade to no-ops without it.
func NewRouter(logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, hub *session.Hub) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Per-connection identity, resolved before rate limiting so actor keys
	// are available.
	r.Use(middleware.Identity)

	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger)
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (clients connect from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Chatment-Actor", "X-Chatment-Nickname", "X-Chatment-Space-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, hub, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Space lifecycle
	r.Post("/space", h.CreateSpace)
	r.Get("/spaces", h.ListSpaces)
	r.Post("/space/{id}/finish", h.FinishSpace)
	r.Get("/space/{id}/history", h.History)
	r.Get("/space/{id}/presence", h.Presence)

	// Realtime channel
	r.Get("/space/{id}/ws", h.Connect)

	return r
}
