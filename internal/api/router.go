// Package api provides the HTTP API for the Hanoi air quality service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/handler"
	"github.com/hanoiair/hanoiair/internal/api/middleware"
	"github.com/hanoiair/hanoiair/internal/api/response"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Service     *airquality.Service
	// Registry exposes gateway breaker health on /v1/ops/status. Optional.
	Registry *resilience.Registry
	// CatalogCache is cleared by /v1/ops/catalog/invalidate. Optional.
	CatalogCache airquality.CacheInvalidator
	// TrendDays is the default span of /v1/aqi/trend.
	TrendDays  int
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hanoiair-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no resource at "+r.URL.Path)
	})
	r.MethodNotAllowed(response.MethodNotAllowed)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Service, cfg.Registry, cfg.CatalogCache, cfg.Logger)
	aqiHandler := handler.NewAQIHandler(cfg.Service, cfg.TrendDays, cfg.Logger)
	metadataHandler := handler.NewMetadataHandler(cfg.Service)

	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
			r.With(standardRateLimit).Post("/catalog/invalidate", opsHandler.InvalidateCatalog)
		})

		r.Route("/aqi", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/current", aqiHandler.Current)
				r.Get("/latest", aqiHandler.Latest)
				r.Get("/hourly", aqiHandler.Hourly)
				r.Get("/index", aqiHandler.ComputeIndex)
			})

			// Multi-day history scans the warehouse.
			r.Group(func(r chi.Router) {
				r.Use(expensiveRateLimit)
				r.Get("/trend", aqiHandler.Trend)
				r.Get("/summary", aqiHandler.Summary)
			})
		})

		r.Route("/metadata", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/locations", metadataHandler.ListLocations)
			r.Get("/locations/{locationKey}", metadataHandler.GetLocation)
			r.Get("/enums", metadataHandler.GetEnums)
		})
	})

	return r
}
