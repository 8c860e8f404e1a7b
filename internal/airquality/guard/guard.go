// Package guard wraps an airquality.Gateway with a circuit breaker so that a
// failing store is skipped quickly and its health shows up in the registry.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
)

// Config configures a guarded gateway.
type Config struct {
	// Name identifies the breaker in the registry (e.g. "gateway.bigquery").
	Name string

	// Failures is the number of consecutive failures that opens the circuit
	// (default: 5).
	Failures uint32

	// OpenTimeout is how long the circuit stays open (default: 30s).
	OpenTimeout time.Duration

	Registry *resilience.Registry
	Logger   zerolog.Logger
}

// Gateway is a circuit-breaking airquality.Gateway.
type Gateway struct {
	next    airquality.Gateway
	breaker *resilience.Breaker
}

var _ airquality.Gateway = (*Gateway)(nil)

// Wrap guards next.
func Wrap(next airquality.Gateway, cfg Config) *Gateway {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	failures := cfg.Failures
	logger := cfg.Logger
	breaker := resilience.NewBreaker(resilience.CircuitBreakerConfig{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("gateway circuit state changed")
		},
	}, cfg.Registry)

	return &Gateway{next: next, breaker: breaker}
}

// Name returns the breaker name.
func (g *Gateway) Name() string {
	return g.breaker.Name()
}

// State returns the current circuit state.
func (g *Gateway) State() gobreaker.State {
	return g.breaker.CircuitBreakerState()
}

func (g *Gateway) FetchReadings(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.Reading, error) {
	var out []airquality.Reading
	err := g.breaker.Execute(func() (err error) {
		out, err = g.next.FetchReadings(ctx, filter, window)
		return err
	})
	return out, classify("fetch readings", err)
}

func (g *Gateway) FetchDailyAggregates(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.TrendPoint, error) {
	var out []airquality.TrendPoint
	err := g.breaker.Execute(func() (err error) {
		out, err = g.next.FetchDailyAggregates(ctx, filter, window)
		return err
	})
	return out, classify("fetch daily aggregates", err)
}

func (g *Gateway) FetchLocationCatalog(ctx context.Context) ([]airquality.Location, error) {
	var out []airquality.Location
	err := g.breaker.Execute(func() (err error) {
		out, err = g.next.FetchLocationCatalog(ctx)
		return err
	})
	return out, classify("fetch location catalog", err)
}

func classify(op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return airquality.ClassifyGatewayError(op, err)
	}
	return err
}
