package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/osobh/pingpong-sub001/internal/api/middleware"
	"github.com/osobh/pingpong-sub001/internal/handlers"
	"github.com/osobh/pingpong-sub001/internal/hub"
	"github.com/osobh/pingpong-sub001/internal/store"
)

// RouterConfig holds what the router needs beyond the hub.
type RouterConfig struct {
	// Redis enables message history and rate limiting. May be nil.
	Redis              *store.RedisStore
	RateLimitWhitelist []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *hub.Hub, cfg RouterConfig) *chi.Mux {
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

	// Rate limiting needs shared counters
	if cfg.Redis != nil {
		limiter := middleware.NewRateLimiter(cfg.Redis.Client(), logger, middleware.RateLimiterConfig{
			Whitelist: cfg.RateLimitWhitelist,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	hd := handlers.NewHandler(h, cfg.Redis, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api", http.StatusFound)
	})
	r.Get("/api", hd.Root)
	r.Get("/health", hd.Health)
	r.Get("/ws", hd.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(handlers.WithTimeout)

		r.Get("/stats", hd.Stats)
		r.Get("/rooms", hd.ListRooms)
		r.Post("/rooms", hd.CreateRoom)
		r.Get("/rooms/{id}", hd.GetRoom)
		r.Delete("/rooms/{id}", hd.CloseRoom)
		r.Get("/rooms/{id}/messages", hd.GetRoomMessages)
		r.Get("/rooms/{id}/proposals", hd.ListProposals)
		r.Get("/search", hd.Search)
	})

	return r
}
