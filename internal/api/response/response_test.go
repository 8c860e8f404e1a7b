package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanoiair/hanoiair/internal/api/middleware"
	"github.com/hanoiair/hanoiair/internal/api/models"
	"github.com/hanoiair/hanoiair/internal/api/response"
)

// serve runs fn behind the RequestID middleware so the context carries an ID.
func serve(t *testing.T, method, path string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	middleware.RequestID(fn).ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	var p models.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestJSON_IncludesRequestID(t *testing.T) {
	rec := serve(t, http.MethodGet, "/v1/metadata/enums", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"message": "hello"})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.JSONEq(t, `{"message":"hello"}`, rec.Body.String())
}

func TestJSON_WithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody), http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Empty(t, rec.Body.String())
}

func TestTagged(t *testing.T) {
	tests := []struct {
		name         string
		provenance   models.Provenance
		cacheControl string
	}{
		{"live is cacheable", models.ProvenanceLive, response.LiveMaxAge},
		{"synthetic is never stored", models.ProvenanceSynthetic, "no-store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodGet, "/v1/aqi/current", func(w http.ResponseWriter, r *http.Request) {
				response.Tagged(w, r, tt.provenance, map[string]int{"aqi": 89})
			})

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, string(tt.provenance), rec.Header().Get(middleware.ProvenanceHeader))
			assert.Equal(t, tt.cacheControl, rec.Header().Get("Cache-Control"))
			assert.JSONEq(t, `{"aqi":89}`, rec.Body.String())
		})
	}
}

func TestBadRequest_IncludesFieldErrors(t *testing.T) {
	rec := serve(t, http.MethodGet, "/v1/aqi/trend?days=0", func(w http.ResponseWriter, r *http.Request) {
		response.BadRequest(w, r, "invalid query", []models.FieldError{
			{Field: "days", Message: "must be between 1 and 90", Code: "OUT_OF_RANGE"},
		})
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "/v1/aqi/trend", p.Instance)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), p.TraceID)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "days", p.Errors[0].Field)
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  http.HandlerFunc
		status int
		uri    string
	}{
		{
			name:   "not found",
			write:  func(w http.ResponseWriter, r *http.Request) { response.NotFound(w, r, "location 999 not found") },
			status: http.StatusNotFound,
			uri:    models.ProblemTypeNotFound,
		},
		{
			name:   "method not allowed",
			write:  response.MethodNotAllowed,
			status: http.StatusMethodNotAllowed,
			uri:    models.ProblemTypeMethodNotAllowed,
		},
		{
			name:   "internal error",
			write:  func(w http.ResponseWriter, r *http.Request) { response.InternalError(w, r, "boom") },
			status: http.StatusInternalServerError,
			uri:    models.ProblemTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, http.MethodDelete, "/v1/metadata/locations/999", tt.write)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

			p := decodeProblem(t, rec)
			assert.Equal(t, tt.uri, p.Type)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "/v1/metadata/locations/999", p.Instance)
			assert.NotEmpty(t, p.TraceID)
		})
	}
}

func TestMethodNotAllowed_NamesMethod(t *testing.T) {
	rec := serve(t, http.MethodPut, "/v1/aqi/current", response.MethodNotAllowed)
	assert.Equal(t, "PUT is not supported on this resource", decodeProblem(t, rec).Detail)
}

func TestNoContent_IncludesRequestID(t *testing.T) {
	rec := serve(t, http.MethodPost, "/v1/ops/catalog/invalidate", response.NoContent)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Empty(t, rec.Body.String())
}
