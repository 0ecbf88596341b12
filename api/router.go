package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Skryldev/car-service/repo"
)

// MetricsProvider is the part of *metrics.Metrics the router needs.
type MetricsProvider interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// RouterConfig holds everything NewRouter mounts.
type RouterConfig struct {
	Repo     repo.CarRepository
	Logger   *slog.Logger
	BasePath string

	// Health defaults to an empty registry.
	Health *HealthRegistry
	// Metrics, when set, instruments every route and serves /metrics.
	Metrics MetricsProvider
}

// NewRouter builds the service router: request id, request logging, panic
// recovery and metrics middleware, then health, metrics, API description
// and car routes.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	health := cfg.Health
	if health == nil {
		health = NewHealthRegistry(0)
	}
	RegisterHealthEndpoints(r, health)
	registerOpenAPI(r, NewDocument(cfg.BasePath))

	NewHandler(cfg.Repo, logger, cfg.BasePath).RegisterRoutes(r)
	return r
}
