package worker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanoiair/hanoiair/internal/api/models"
	"github.com/hanoiair/hanoiair/internal/api/response"
)

// HealthHandler serves the worker's liveness and sweep statistics.
//
//	GET /health   liveness; DEGRADED when the last sweep found no live data
//	GET /metrics  sweep counters
func HealthHandler(version string, job *SweepJob) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		m := job.GetMetrics()
		health := models.Health{
			Status: models.HealthStatusOK,
			Time:   models.Timestamp(time.Now()),
			Details: map[string]interface{}{
				"version":       version,
				"total_sweeps":  m.TotalSweeps,
				"last_coverage": m.LastCoverage,
			},
		}
		if m.TotalSweeps > 0 && m.LastCoverage == 0 {
			health.Status = models.HealthStatusDegraded
		}
		response.JSON(w, r, http.StatusOK, health)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, job.MetricsSnapshot())
	})

	return r
}
