package airquality

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the read-only contract of the measurement store. Implementations
// return normalized values (see NormalizeReading) and report failures as
// ErrGatewayUnavailable or ErrGatewayTimeout. An empty result is not an error.
type Gateway interface {
	// FetchReadings returns the candidate readings matching filter inside window.
	FetchReadings(ctx context.Context, filter LocationFilter, window Window) ([]Reading, error)

	// FetchDailyAggregates returns ascending daily index averages.
	FetchDailyAggregates(ctx context.Context, filter LocationFilter, window Window) ([]TrendPoint, error)

	// FetchLocationCatalog returns every known location.
	FetchLocationCatalog(ctx context.Context) ([]Location, error)
}

// CacheInvalidator drops entries a caching Gateway holds outside the service.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// FilterKind selects how a LocationFilter matches locations.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterKey
	FilterProximity
)

// LocationFilter restricts a gateway query to all locations, one location key, or
// the locations within ProximityTolerance of a coordinate.
type LocationFilter struct {
	Kind      FilterKind
	Key       int64
	Latitude  float64
	Longitude float64
}

// AllLocations matches every location.
func AllLocations() LocationFilter {
	return LocationFilter{Kind: FilterAll}
}

// ByKey matches a single location key.
func ByKey(key int64) LocationFilter {
	return LocationFilter{Kind: FilterKey, Key: key}
}

// Near matches locations within ProximityTolerance of a coordinate.
func Near(lat, lon float64) LocationFilter {
	return LocationFilter{Kind: FilterProximity, Latitude: lat, Longitude: lon}
}

// Matches reports whether loc satisfies the filter.
func (f LocationFilter) Matches(loc Location) bool {
	switch f.Kind {
	case FilterKey:
		return loc.Key == f.Key
	case FilterProximity:
		return WithinTolerance(loc, f.Latitude, f.Longitude)
	default:
		return true
	}
}

func (f LocationFilter) String() string {
	switch f.Kind {
	case FilterKey:
		return fmt.Sprintf("key=%d", f.Key)
	case FilterProximity:
		return fmt.Sprintf("near=%.4f,%.4f", f.Latitude, f.Longitude)
	default:
		return "all"
	}
}

// FetchOutcome classifies a gateway call for branching and metrics.
type FetchOutcome string

const (
	OutcomeLive        FetchOutcome = "live"
	OutcomeEmpty       FetchOutcome = "empty"
	OutcomeUnavailable FetchOutcome = "unavailable"
	OutcomeTimeout     FetchOutcome = "timeout"
)

// Fallback reports whether the outcome requires synthesized data.
func (o FetchOutcome) Fallback() bool {
	return o != OutcomeLive
}

// Result is the outcome of one gateway call.
type Result[T any] struct {
	Value   []T
	Outcome FetchOutcome
	Err     error
}

// NewResult classifies the value and error returned by a gateway call.
func NewResult[T any](value []T, err error) Result[T] {
	switch {
	case err != nil && errors.Is(err, ErrGatewayTimeout):
		return Result[T]{Outcome: OutcomeTimeout, Err: err}
	case err != nil:
		return Result[T]{Outcome: OutcomeUnavailable, Err: err}
	case len(value) == 0:
		return Result[T]{Outcome: OutcomeEmpty}
	default:
		return Result[T]{Value: value, Outcome: OutcomeLive}
	}
}

// ClassifyGatewayError wraps a store error in ErrGatewayTimeout when a deadline
// was exceeded and ErrGatewayUnavailable otherwise. Gateway implementations call it
// on every error they return.
func ClassifyGatewayError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGatewayTimeout) || errors.Is(err, ErrGatewayUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrGatewayUnavailable, err)
}
