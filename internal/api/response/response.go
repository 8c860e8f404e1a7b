// Package response writes JSON bodies and problem responses for the API.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/hanoiair/hanoiair/internal/api/middleware"
	"github.com/hanoiair/hanoiair/internal/api/models"
)

// LiveMaxAge is how long clients and CDNs may reuse a live result. Hourly
// aggregates in the store do not change faster than this.
const LiveMaxAge = "public, max-age=60"

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Tagged writes a 200 air quality payload labelled with its provenance.
// Synthetic payloads are marked no-store so placeholders never outlive an
// outage in a shared cache.
func Tagged(w http.ResponseWriter, r *http.Request, provenance models.Provenance, data interface{}) {
	w.Header().Set(middleware.ProvenanceHeader, string(provenance))
	if provenance == models.ProvenanceLive {
		w.Header().Set("Cache-Control", LiveMaxAge)
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	JSON(w, r, http.StatusOK, data)
}

// Error writes a problem for the current request.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	Error(w, r, models.NewProblem(status, middleware.GetRequestID(r.Context()), detail))
}

// BadRequest writes a 400 with per-parameter errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusNotFound, detail)
}

// MethodNotAllowed writes a 405. Its signature fits chi's MethodNotAllowed hook.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem(w, r, http.StatusMethodNotAllowed, r.Method+" is not supported on this resource")
}

// InternalError writes a 500.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, http.StatusInternalServerError, detail)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.WriteHeader(http.StatusNoContent)
}
