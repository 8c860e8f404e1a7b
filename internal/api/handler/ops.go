// Package handler provides HTTP handlers for the Hanoi air quality API.
package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/api/models"
	"github.com/hanoiair/hanoiair/internal/api/response"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	service   *airquality.Service
	registry  *resilience.Registry
	cache     airquality.CacheInvalidator
	logger    zerolog.Logger
}

// NewOpsHandler creates a new OpsHandler. registry and cache may be nil.
func NewOpsHandler(version, buildTime string, service *airquality.Service, registry *resilience.Registry, cache airquality.CacheInvalidator, logger zerolog.Logger) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		service:   service,
		registry:  registry,
		cache:     cache,
		logger:    logger,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once the
// location catalog has been fetched from the store at least once.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.CatalogStatus()
	if !status.HasData {
		h.service.Locations(r.Context())
		status = h.service.CatalogStatus()
	}

	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(time.Now()),
		Details: map[string]interface{}{"locations": status.LocationCount},
	}
	if !status.HasData {
		health.Status = models.HealthStatusFail
		health.Details = map[string]interface{}{"catalog": "unreachable"}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - breaker and catalog status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.registry != nil {
		for _, health := range h.registry.GetAllHealth() {
			provider := toProviderStatus(health)
			if provider.Status != models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, provider)
		}
	}

	catalog := h.service.CatalogStatus()
	status.Catalog = toCatalogStatus(catalog)

	subsystem := models.SubsystemStatus{Name: "location-catalog", Status: models.HealthStatusOK}
	switch {
	case !catalog.HasData:
		detail := "serving built-in catalog"
		subsystem.Status = models.HealthStatusDegraded
		subsystem.Detail = &detail
	case catalog.IsStale:
		detail := "serving stale catalog"
		subsystem.Status = models.HealthStatusDegraded
		subsystem.Detail = &detail
	}
	if subsystem.Status != models.HealthStatusOK {
		status.Status = models.HealthStatusDegraded
	}
	status.Subsystems = append(status.Subsystems, subsystem)

	response.JSON(w, r, http.StatusOK, status)
}

// InvalidateCatalog handles POST /v1/ops/catalog/invalidate. The shared cache
// is cleared first so the service refetches from the store, not from Redis.
// A cache failure is logged and does not fail the request.
func (h *OpsHandler) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("shared cache invalidation failed")
		}
	}
	h.service.InvalidateCatalog()
	response.NoContent(w, r)
}

func toProviderStatus(health *resilience.Health) models.ProviderStatus {
	status := models.ProviderStatus{
		Provider:     health.Name,
		Status:       models.HealthStatusOK,
		CircuitState: health.CircuitState.String(),
	}
	switch health.CircuitState {
	case gobreaker.StateHalfOpen:
		status.Status = models.HealthStatusDegraded
	case gobreaker.StateOpen:
		status.Status = models.HealthStatusFail
	}
	if health.LastSuccessAt != nil {
		ts := models.Timestamp(*health.LastSuccessAt)
		status.LastSuccessAt = &ts
	}
	if health.LastFailureAt != nil {
		ts := models.Timestamp(*health.LastFailureAt)
		status.LastFailureAt = &ts
	}
	if health.LastError != "" {
		msg := health.LastError
		status.Message = &msg
	}
	return status
}

func toCatalogStatus(s airquality.CatalogStatus) models.CatalogStatus {
	out := models.CatalogStatus{
		Cached:        s.HasData,
		LocationCount: s.LocationCount,
		Expired:       s.IsExpired,
		Stale:         s.IsStale,
	}
	if s.HasData {
		fetched := models.Timestamp(s.FetchedAt)
		expires := models.Timestamp(s.ExpiresAt)
		out.FetchedAt = &fetched
		out.ExpiresAt = &expires
	}
	return out
}
