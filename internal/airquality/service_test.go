package airquality_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

// mockGateway is a test gateway that returns configurable data.
type mockGateway struct {
	readings []airquality.Reading
	daily    []airquality.TrendPoint
	catalog  []airquality.Location
	err      error
	delay    time.Duration

	catalogErr   error
	catalogDelay time.Duration

	readingCalls atomic.Int32
	dailyCalls   atomic.Int32
	catalogCalls atomic.Int32
}

func (m *mockGateway) wait(ctx context.Context) error {
	if m.delay == 0 {
		return nil
	}
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockGateway) FetchReadings(ctx context.Context, filter airquality.LocationFilter, _ airquality.Window) ([]airquality.Reading, error) {
	m.readingCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	var out []airquality.Reading
	for _, r := range m.readings {
		if filter.Kind == airquality.FilterKey && r.LocationKey != filter.Key {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockGateway) FetchDailyAggregates(ctx context.Context, _ airquality.LocationFilter, _ airquality.Window) ([]airquality.TrendPoint, error) {
	m.dailyCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.daily, nil
}

func (m *mockGateway) FetchLocationCatalog(ctx context.Context) ([]airquality.Location, error) {
	m.catalogCalls.Add(1)
	if m.catalogDelay > 0 {
		select {
		case <-time.After(m.catalogDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.catalogErr != nil {
		return nil, m.catalogErr
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.catalog, nil
}

// stuckGateway ignores its context and blocks until release is closed.
type stuckGateway struct {
	release chan struct{}
}

func (g *stuckGateway) FetchReadings(context.Context, airquality.LocationFilter, airquality.Window) ([]airquality.Reading, error) {
	<-g.release
	return nil, nil
}

func (g *stuckGateway) FetchDailyAggregates(context.Context, airquality.LocationFilter, airquality.Window) ([]airquality.TrendPoint, error) {
	<-g.release
	return nil, nil
}

func (g *stuckGateway) FetchLocationCatalog(context.Context) ([]airquality.Location, error) {
	return nil, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []airquality.FetchOutcome
	results  map[airquality.Provenance]int
}

func (r *countingRecorder) RecordGatewayCall(_ context.Context, _ string, outcome airquality.FetchOutcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) RecordResult(_ context.Context, _ string, p airquality.Provenance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[airquality.Provenance]int)
	}
	r.results[p]++
}

func newTestService(t *testing.T, gw airquality.Gateway, opts ...func(*airquality.ServiceConfig)) *airquality.Service {
	t.Helper()

	seed := int64(1)
	cfg := airquality.ServiceConfig{
		Gateway: gw,
		Logger:  zerolog.New(io.Discard),
		Synthesizer: airquality.NewSynthesizer(airquality.SynthesizerConfig{
			Seed: &seed,
			Now:  func() time.Time { return fixedNow },
		}),
		Timeout: 50 * time.Millisecond,
		Now:     func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	svc, err := airquality.NewService(cfg)
	require.NoError(t, err)
	return svc
}

func cauGiayReadings() []airquality.Reading {
	return []airquality.Reading{
		{LocationKey: 6, Timestamp: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC), PM25: ptr(20), Seq: 1},
		{LocationKey: 6, Timestamp: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), PM25: ptr(30), Seq: 2},
	}
}

func TestNewService_Validation(t *testing.T) {
	_, err := airquality.NewService(airquality.ServiceConfig{})
	assert.Error(t, err)

	_, err = airquality.NewService(airquality.ServiceConfig{
		Gateway:   &mockGateway{},
		Pollutant: "o3",
	})
	assert.ErrorIs(t, err, airquality.ErrUnknownPollutant)
}

func TestService_CurrentAQI_Live(t *testing.T) {
	gw := &mockGateway{readings: cauGiayReadings(), catalog: airquality.DefaultLocations()}
	svc := newTestService(t, gw)

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), result.Timestamp)
	require.NotNil(t, result.Index)
	assert.Equal(t, 89, *result.Index)
	assert.Equal(t, airquality.CategoryModerate, result.Category)
	assert.Equal(t, "Cầu Giấy", result.Location.Name)
	assert.Equal(t, airquality.PollutantPM25, result.Pollutant)
}

func TestService_CurrentAQI_EmptyGatewaySynthesizes(t *testing.T) {
	svc := newTestService(t, &mockGateway{})

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(99))
	require.NoError(t, err)

	assertComplete(t, result)
	assert.Equal(t, int64(99), result.Location.Key)
	assert.Equal(t, "Location 99", result.Location.Name)
}

func TestService_CurrentAQI_GatewayErrorSynthesizes(t *testing.T) {
	rec := &countingRecorder{}
	gw := &mockGateway{err: errors.New("connection refused")}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) { cfg.Recorder = rec })

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)

	assertComplete(t, result)
	assert.Equal(t, "Cầu Giấy", result.Location.Name, "built-in catalog still names the location")
	assert.Contains(t, rec.outcomes, airquality.OutcomeUnavailable)
	assert.Equal(t, 1, rec.results[airquality.ProvenanceSynthetic])
}

func TestService_CurrentAQI_TimeoutSynthesizes(t *testing.T) {
	rec := &countingRecorder{}
	gw := &mockGateway{readings: cauGiayReadings(), delay: time.Second}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) { cfg.Recorder = rec })

	start := time.Now()
	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
	assert.Contains(t, rec.outcomes, airquality.OutcomeTimeout)
}

func TestService_CurrentAQI_GatewayIgnoringContext(t *testing.T) {
	gw := &stuckGateway{release: make(chan struct{})}
	t.Cleanup(func() { close(gw.release) })
	svc := newTestService(t, gw)

	start := time.Now()
	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
}

func TestService_CurrentAQI_ReadingsOutsideWindow(t *testing.T) {
	gw := &mockGateway{readings: []airquality.Reading{
		{LocationKey: 6, Timestamp: fixedNow.Add(-30 * 24 * time.Hour), PM25: ptr(20)},
	}}
	svc := newTestService(t, gw)

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)
	assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
}

func TestService_CurrentAQI_Proximity(t *testing.T) {
	gw := &mockGateway{readings: append(cauGiayReadings(), airquality.Reading{
		LocationKey: 7,
		Timestamp:   time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC),
		PM25:        ptr(50),
	})}
	svc := newTestService(t, gw)

	result, err := svc.CurrentAQI(context.Background(), airquality.Near(21.0333, 105.7833))
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	assert.Equal(t, int64(6), result.Location.Key)
	assert.Equal(t, 89, *result.Index)
}

func TestService_CurrentAQI_FallsBackToStoredIndex(t *testing.T) {
	gw := &mockGateway{readings: []airquality.Reading{
		{LocationKey: 3, Timestamp: fixedNow.Add(-time.Hour), AQITotal: ptr(120.4)},
	}}
	svc := newTestService(t, gw)

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(3))
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	require.NotNil(t, result.Index)
	assert.Equal(t, 120, *result.Index)
	assert.Equal(t, airquality.CategoryUnhealthySensitive, result.Category)
}

func TestService_CurrentAQI_NoValues(t *testing.T) {
	gw := &mockGateway{readings: []airquality.Reading{
		{LocationKey: 3, Timestamp: fixedNow.Add(-time.Hour)},
	}}
	svc := newTestService(t, gw)

	result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(3))
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	assert.Nil(t, result.Index)
	assert.Empty(t, result.Category)
}

func TestService_LatestAll(t *testing.T) {
	gw := &mockGateway{readings: append(cauGiayReadings(),
		airquality.Reading{LocationKey: 2, Timestamp: fixedNow.Add(-2 * time.Hour), PM25: ptr(8)},
	)}
	svc := newTestService(t, gw)

	results, err := svc.LatestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(2), results[0].Location.Key)
	assert.Equal(t, int64(6), results[1].Location.Key)
	assert.Equal(t, 89, *results[1].Index)
	for _, r := range results {
		assert.Equal(t, airquality.ProvenanceLive, r.Provenance)
	}
}

func TestService_LatestAll_Fallback(t *testing.T) {
	svc := newTestService(t, &mockGateway{err: errors.New("down")})

	results, err := svc.LatestAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 30)
	for _, r := range results {
		assertComplete(t, r)
	}
}

func TestService_Hourly(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 3, 15, h, m, 0, 0, time.UTC) }
	gw := &mockGateway{readings: []airquality.Reading{
		{LocationKey: 6, Timestamp: at(8, 0), PM25: ptr(10)},
		{LocationKey: 6, Timestamp: at(8, 30), PM25: ptr(12)},
		{LocationKey: 6, Timestamp: at(9, 0), PM25: ptr(20)},
		{LocationKey: 6, Timestamp: at(10, 0), PM25: ptr(30)},
	}}
	svc := newTestService(t, gw)

	result, err := svc.Hourly(context.Background(), airquality.ByKey(6), 0)
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	assert.Equal(t, 24, result.Hours)
	require.Len(t, result.Points, 3)
	assert.Equal(t, at(8, 30), result.Points[0].Timestamp)
	assert.Equal(t, 50, *result.Points[0].Index)
	assert.Equal(t, at(10, 0), result.Points[2].Timestamp)
}

func TestService_Hourly_Fallback(t *testing.T) {
	svc := newTestService(t, &mockGateway{})

	result, err := svc.Hourly(context.Background(), airquality.ByKey(6), 500)
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
	assert.Equal(t, airquality.MaxHourlySpan, result.Hours)
	assert.Len(t, result.Points, airquality.MaxHourlySpan)
}

func TestService_Trend(t *testing.T) {
	gw := &mockGateway{daily: series(50, 60, 70)}
	svc := newTestService(t, gw)

	result, err := svc.Trend(context.Background(), airquality.ByKey(6), 3)
	require.NoError(t, err)

	assert.Equal(t, airquality.ProvenanceLive, result.Provenance)
	assert.Equal(t, airquality.DirectionRising, result.Series.Direction)
	assert.InDelta(t, 40.0, result.Series.PercentChange, 1e-9)
	assert.Equal(t, "Cầu Giấy", result.Location.Name)
}

func TestService_Trend_Fallback(t *testing.T) {
	svc := newTestService(t, &mockGateway{err: errors.New("down")})

	result, err := svc.Trend(context.Background(), airquality.ByKey(6), 0)
	require.NoError(t, err)
	assert.Equal(t, airquality.ProvenanceSynthetic, result.Provenance)
	assert.Equal(t, airquality.DefaultTrendDays, result.Days)
	assert.Len(t, result.Series.Points, airquality.DefaultTrendDays)

	result, err = svc.Trend(context.Background(), airquality.ByKey(6), 1000)
	require.NoError(t, err)
	assert.Equal(t, airquality.MaxTrendDays, result.Days)
	assert.Len(t, result.Series.Points, airquality.MaxTrendDays)
}

func TestService_Summary(t *testing.T) {
	values := make([]float64, 26)
	for i := range values {
		values[i] = float64(40 + i)
	}

	tests := []struct {
		name       string
		gw         *mockGateway
		quality    airquality.DataQuality
		provenance airquality.Provenance
		days       int
	}{
		{"good coverage", &mockGateway{daily: series(values...)}, airquality.DataQualityGood, airquality.ProvenanceLive, 26},
		{"limited coverage", &mockGateway{daily: series(50, 60, 70)}, airquality.DataQualityLimited, airquality.ProvenanceLive, 3},
		{"no data", &mockGateway{}, airquality.DataQualityNoData, airquality.ProvenanceLive, 0},
		{"gateway down", &mockGateway{err: errors.New("down")}, airquality.DataQualityNoData, airquality.ProvenanceSynthetic, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.gw)

			summary, err := svc.Summary(context.Background(), airquality.ByKey(6))
			require.NoError(t, err)

			assert.Equal(t, tt.quality, summary.DataQuality)
			assert.Equal(t, tt.provenance, summary.Provenance)
			assert.Equal(t, tt.days, summary.DaysWithData)
			assert.Equal(t, airquality.SummaryDays, summary.Days)
		})
	}
}

func TestService_Summary_Statistics(t *testing.T) {
	svc := newTestService(t, &mockGateway{daily: series(50, 60, 70)})

	summary, err := svc.Summary(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)

	assert.Equal(t, 72, summary.TotalRecords)
	assert.InDelta(t, 60, summary.AvgIndex, 1e-9)
	assert.InDelta(t, 50, summary.MinIndex, 1e-9)
	assert.InDelta(t, 70, summary.MaxIndex, 1e-9)
}

func TestService_ComputeIndex(t *testing.T) {
	svc := newTestService(t, &mockGateway{})

	got, err := svc.ComputeIndex(airquality.PollutantPM25, ptr(30))
	require.NoError(t, err)
	assert.Equal(t, 89, *got)

	_, err = svc.ComputeIndex("o3", ptr(30))
	assert.ErrorIs(t, err, airquality.ErrUnknownPollutant)

	assert.Equal(t, []airquality.Pollutant{airquality.PollutantPM10, airquality.PollutantPM25}, svc.Pollutants())
}

func TestService_Locations_Cached(t *testing.T) {
	gw := &mockGateway{catalog: []airquality.Location{{Key: 1, Name: "Test"}}}
	svc := newTestService(t, gw)

	locations := svc.Locations(context.Background())
	require.Len(t, locations, 1)
	svc.Locations(context.Background())

	assert.Equal(t, int32(1), gw.catalogCalls.Load())

	status := svc.CatalogStatus()
	assert.True(t, status.HasData)
	assert.Equal(t, 1, status.LocationCount)
	assert.False(t, status.IsExpired)
}

func TestService_Locations_StaleIfError(t *testing.T) {
	c := &clock{now: fixedNow}
	gw := &mockGateway{catalog: []airquality.Location{{Key: 1, Name: "Test"}}}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) {
		cfg.Now = c.Now
		cfg.CatalogTTL = time.Minute
		cfg.StaleIfErrorTTL = time.Hour
	})

	require.Len(t, svc.Locations(context.Background()), 1)

	gw.err = errors.New("down")
	c.Advance(2 * time.Minute)

	locations := svc.Locations(context.Background())
	require.Len(t, locations, 1, "stale catalog served")
	assert.True(t, svc.CatalogStatus().IsExpired)
	assert.False(t, svc.CatalogStatus().IsStale)

	c.Advance(2 * time.Hour)
	locations = svc.Locations(context.Background())
	assert.Len(t, locations, 30, "built-in catalog after stale window")
	assert.True(t, svc.CatalogStatus().IsStale)
}

func TestService_Locations_BuiltinWhenEmpty(t *testing.T) {
	svc := newTestService(t, &mockGateway{})

	assert.Len(t, svc.Locations(context.Background()), 30)
	assert.False(t, svc.CatalogStatus().HasData)
}

func TestService_InvalidateCatalog(t *testing.T) {
	gw := &mockGateway{catalog: []airquality.Location{{Key: 1}}}
	svc := newTestService(t, gw)

	svc.Locations(context.Background())
	svc.InvalidateCatalog()
	assert.False(t, svc.CatalogStatus().HasData)

	svc.Locations(context.Background())
	assert.Equal(t, int32(2), gw.catalogCalls.Load())
}

func TestService_ConcurrentAccess(t *testing.T) {
	gw := &mockGateway{readings: cauGiayReadings(), catalog: airquality.DefaultLocations()}
	svc := newTestService(t, gw)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = svc.CurrentAQI(context.Background(), airquality.ByKey(6))
				svc.Locations(context.Background())
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gw.catalogCalls.Load())
}

func TestService_CatalogOutage_DoesNotSerializeCallers(t *testing.T) {
	gw := &mockGateway{
		readings:     cauGiayReadings(),
		catalogErr:   errors.New("catalog down"),
		catalogDelay: 100 * time.Millisecond,
	}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) {
		cfg.Timeout = time.Second
	})

	const callers = 10
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
			assert.NoError(t, err)
			assert.Equal(t, "Cầu Giấy", result.Location.Name)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond, "callers share one catalog fetch")
	assert.LessOrEqual(t, gw.catalogCalls.Load(), int32(2))

	calls := gw.catalogCalls.Load()
	start = time.Now()
	_, err := svc.CurrentAQI(context.Background(), airquality.ByKey(6))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, calls, gw.catalogCalls.Load(), "failed refresh is not retried before the retry interval")
	assert.False(t, svc.CatalogStatus().HasData)
}

func TestService_CatalogRetryAfterFailure(t *testing.T) {
	c := &clock{now: fixedNow}
	gw := &mockGateway{catalogErr: errors.New("down")}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) {
		cfg.Now = c.Now
		cfg.CatalogRetry = 30 * time.Second
	})

	assert.Len(t, svc.Locations(context.Background()), 30)
	assert.Len(t, svc.Locations(context.Background()), 30)
	assert.Equal(t, int32(1), gw.catalogCalls.Load())

	gw.catalogErr = nil
	gw.catalog = []airquality.Location{{Key: 1, Name: "Test"}}
	c.Advance(31 * time.Second)

	assert.Len(t, svc.Locations(context.Background()), 1)
	assert.Equal(t, int32(2), gw.catalogCalls.Load())
}

func TestService_CatalogRefresh_CallerContextCancelled(t *testing.T) {
	gw := &mockGateway{
		catalog:      []airquality.Location{{Key: 1, Name: "Test"}},
		catalogDelay: 100 * time.Millisecond,
	}
	svc := newTestService(t, gw, func(cfg *airquality.ServiceConfig) {
		cfg.Timeout = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Len(t, svc.Locations(ctx), 30, "built-in catalog while the refresh is in flight")

	require.Eventually(t, func() bool {
		return svc.CatalogStatus().HasData
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, svc.Locations(context.Background()), 1)
	assert.Equal(t, int32(1), gw.catalogCalls.Load())
}
