package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID is the request ID, echoed so clients can quote it.
	TraceID string `json:"traceId"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs.
const (
	ProblemTypeValidation       = "https://api.hanoiair.vn/problems/validation-error"
	ProblemTypeNotFound         = "https://api.hanoiair.vn/problems/not-found"
	ProblemTypeMethodNotAllowed = "https://api.hanoiair.vn/problems/method-not-allowed"
	ProblemTypeTooManyRequests  = "https://api.hanoiair.vn/problems/too-many-requests"
	ProblemTypeInternal         = "https://api.hanoiair.vn/problems/internal-error"
	ProblemTypeUnavailable      = "https://api.hanoiair.vn/problems/service-unavailable"
	ProblemTypeTLSRequired      = "https://api.hanoiair.vn/problems/tls-required"
	ProblemTypeGeneric          = "about:blank"
)

type problemKind struct {
	uri   string
	title string
}

var problemKinds = map[int]problemKind{
	http.StatusBadRequest:          {ProblemTypeValidation, "Validation error"},
	http.StatusForbidden:           {ProblemTypeTLSRequired, "TLS required"},
	http.StatusNotFound:            {ProblemTypeNotFound, "Not found"},
	http.StatusMethodNotAllowed:    {ProblemTypeMethodNotAllowed, "Method not allowed"},
	http.StatusTooManyRequests:     {ProblemTypeTooManyRequests, "Too many requests"},
	http.StatusInternalServerError: {ProblemTypeInternal, "Internal server error"},
	http.StatusServiceUnavailable:  {ProblemTypeUnavailable, "Service unavailable"},
}

// NewProblem builds the problem for status. Statuses without a dedicated type
// get about:blank and the standard status text as title.
func NewProblem(status int, traceID, detail string) *Problem {
	kind, ok := problemKinds[status]
	if !ok {
		kind = problemKind{uri: ProblemTypeGeneric, title: http.StatusText(status)}
	}
	return &Problem{
		Type:    kind.uri,
		Title:   kind.title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewBadRequest creates a 400 problem carrying field errors.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// Write encodes the problem. Error bodies are never cached.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Cache-Control", "no-store")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
