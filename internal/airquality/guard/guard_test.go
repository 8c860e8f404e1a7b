package guard_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/airquality/guard"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
)

type flakyGateway struct {
	err   error
	calls atomic.Int32
}

func (g *flakyGateway) FetchReadings(context.Context, airquality.LocationFilter, airquality.Window) ([]airquality.Reading, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return []airquality.Reading{{LocationKey: 6}}, nil
}

func (g *flakyGateway) FetchDailyAggregates(context.Context, airquality.LocationFilter, airquality.Window) ([]airquality.TrendPoint, error) {
	g.calls.Add(1)
	return nil, g.err
}

func (g *flakyGateway) FetchLocationCatalog(context.Context) ([]airquality.Location, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return airquality.DefaultLocations(), nil
}

func wrap(next airquality.Gateway, registry *resilience.Registry) *guard.Gateway {
	return guard.Wrap(next, guard.Config{
		Name:        "gateway.test",
		Failures:    3,
		OpenTimeout: time.Minute,
		Registry:    registry,
		Logger:      zerolog.New(io.Discard),
	})
}

func TestGuard_PassesThrough(t *testing.T) {
	next := &flakyGateway{}
	g := wrap(next, nil)

	readings, err := g.FetchReadings(context.Background(), airquality.ByKey(6), airquality.Window{})
	require.NoError(t, err)
	assert.Len(t, readings, 1)

	locations, err := g.FetchLocationCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, locations, 30)

	points, err := g.FetchDailyAggregates(context.Background(), airquality.ByKey(6), airquality.Window{})
	require.NoError(t, err)
	assert.Empty(t, points)

	assert.Equal(t, "gateway.test", g.Name())
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyGateway{err: airquality.ClassifyGatewayError("query", errors.New("boom"))}
	registry := resilience.NewRegistry()
	g := wrap(next, registry)

	for i := 0; i < 3; i++ {
		_, err := g.FetchReadings(context.Background(), airquality.AllLocations(), airquality.Window{})
		assert.ErrorIs(t, err, airquality.ErrGatewayUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.FetchReadings(context.Background(), airquality.AllLocations(), airquality.Window{})
	assert.ErrorIs(t, err, airquality.ErrGatewayUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(3), next.calls.Load(), "open circuit must not reach the store")

	health := registry.GetHealth("gateway.test")
	require.NotNil(t, health)
	assert.True(t, health.IsUnhealthy())
	assert.Contains(t, health.LastError, "boom")
}

func TestGuard_CancellationDoesNotTrip(t *testing.T) {
	next := &flakyGateway{err: context.Canceled}
	g := wrap(next, nil)

	for i := 0; i < 5; i++ {
		_, _ = g.FetchLocationCatalog(context.Background())
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuard_ServiceFallsBackWhenOpen(t *testing.T) {
	next := &flakyGateway{err: errors.New("down")}
	g := wrap(next, nil)

	svc, err := airquality.NewService(airquality.ServiceConfig{
		Gateway: g,
		Logger:  zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
		require.NoError(t, err)
		assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())
}
