package airquality

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Service limits.
const (
	DefaultTrendDays  = 7
	MaxTrendDays      = 90
	DefaultHourlySpan = 24
	MaxHourlySpan     = 168
	SummaryDays       = 30

	// goodCoverageDays is the number of days with data for DataQualityGood.
	goodCoverageDays = 25
)

// Recorder receives gateway and result metrics. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordGatewayCall(ctx context.Context, operation string, outcome FetchOutcome, duration time.Duration)
	RecordResult(ctx context.Context, operation string, provenance Provenance)
}

type nopRecorder struct{}

func (nopRecorder) RecordGatewayCall(context.Context, string, FetchOutcome, time.Duration) {}
func (nopRecorder) RecordResult(context.Context, string, Provenance)                      {}

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Gateway is the measurement store. Required.
	Gateway Gateway

	// Logger for service operations.
	Logger zerolog.Logger

	// Interpolator computes index values (default: EPA table).
	Interpolator *Interpolator

	// Synthesizer produces fallback data (default: clock-seeded).
	Synthesizer *Synthesizer

	// Pollutant drives the reported index (default: pm2_5).
	Pollutant Pollutant

	// Timeout bounds every gateway call (default: 5 seconds).
	Timeout time.Duration

	// Lookback is how far back current readings are searched (default: 7 days).
	Lookback time.Duration

	// CatalogTTL is how long the location catalog is cached (default: 10 minutes).
	CatalogTTL time.Duration

	// StaleIfErrorTTL allows serving a stale catalog on gateway errors (default: 1 hour).
	StaleIfErrorTTL time.Duration

	// CatalogRetry is how long a failed catalog refresh suppresses further
	// attempts (default: 30 seconds).
	CatalogRetry time.Duration

	// Recorder receives metrics (default: no-op).
	Recorder Recorder

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service answers current index, trend and history questions. Gateway failures
// never surface as errors: they produce synthetic results instead.
type Service struct {
	gateway         Gateway
	logger          zerolog.Logger
	interp          *Interpolator
	synth           *Synthesizer
	pollutant       Pollutant
	timeout         time.Duration
	lookback        time.Duration
	catalogTTL      time.Duration
	staleIfErrorTTL time.Duration
	catalogRetry    time.Duration
	recorder        Recorder
	now             func() time.Time
	builtin         *Catalog
	refresh         singleflight.Group

	mu          sync.RWMutex
	catalog     *Catalog
	fetchedAt   time.Time
	cacheExpiry time.Time
	retryAt     time.Time
}

// NewService creates a new air quality service. It fails when the configured
// pollutant has no breakpoint ranges.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("airquality: gateway is required")
	}

	interp := cfg.Interpolator
	if interp == nil {
		interp = NewInterpolator(nil)
	}

	pollutant := cfg.Pollutant
	if pollutant == "" {
		pollutant = PollutantPM25
	}
	if _, err := interp.Table().RangesFor(pollutant); err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	synth := cfg.Synthesizer
	if synth == nil {
		synth = NewSynthesizer(SynthesizerConfig{Now: now, Interpolator: interp})
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = 7 * 24 * time.Hour
	}

	catalogTTL := cfg.CatalogTTL
	if catalogTTL == 0 {
		catalogTTL = 10 * time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = time.Hour
	}

	catalogRetry := cfg.CatalogRetry
	if catalogRetry == 0 {
		catalogRetry = 30 * time.Second
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		gateway:         cfg.Gateway,
		logger:          cfg.Logger,
		interp:          interp,
		synth:           synth,
		pollutant:       pollutant,
		timeout:         timeout,
		lookback:        lookback,
		catalogTTL:      catalogTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		catalogRetry:    catalogRetry,
		recorder:        recorder,
		now:             now,
		builtin:         NewCatalog(DefaultLocations()),
	}, nil
}

// ComputeIndex converts a concentration into an index value.
func (s *Service) ComputeIndex(p Pollutant, concentration *float64) (*int, error) {
	return s.interp.Compute(p, concentration)
}

// Pollutants returns the pollutants with configured breakpoints.
func (s *Service) Pollutants() []Pollutant {
	return s.interp.Table().Pollutants()
}

// CurrentAQI returns the index derived from the latest reading matching filter.
// When the gateway is empty, failing or slow, the result is synthesized.
func (s *Service) CurrentAQI(ctx context.Context, filter LocationFilter) (AqiResult, error) {
	const op = "current"

	loc := s.resolveLocation(ctx, filter)
	window := LastWindow(s.now(), s.lookback)

	res := callGateway(ctx, s, op, func(ctx context.Context) ([]Reading, error) {
		return s.gateway.FetchReadings(ctx, filter, window)
	})

	if !res.Outcome.Fallback() {
		latest := ResolveLatest(res.Value, &window)

		var (
			reading Reading
			ok      bool
		)
		if filter.Kind == FilterKey {
			reading, ok = latest[filter.Key]
		} else {
			reading, ok = newestOf(latest)
		}

		if ok {
			if filter.Kind != FilterKey {
				loc = s.locationForKey(ctx, reading.LocationKey, loc)
			}
			result, err := s.liveResult(loc, reading)
			if err != nil {
				return AqiResult{}, err
			}
			s.recorder.RecordResult(ctx, op, ProvenanceLive)
			return result, nil
		}
		res.Outcome = OutcomeEmpty
	}

	s.logFallback(op, filter, res.Outcome, res.Err)
	s.recorder.RecordResult(ctx, op, ProvenanceSynthetic)
	return s.synth.SynthesizePoint(loc), nil
}

// LatestAll returns the latest result for every location with data, ordered by
// location key. When nothing is available, every catalog location gets a
// synthetic result.
func (s *Service) LatestAll(ctx context.Context) ([]AqiResult, error) {
	const op = "latest_all"

	catalog := s.currentCatalog(ctx)
	window := LastWindow(s.now(), s.lookback)

	res := callGateway(ctx, s, op, func(ctx context.Context) ([]Reading, error) {
		return s.gateway.FetchReadings(ctx, AllLocations(), window)
	})

	if !res.Outcome.Fallback() {
		latest := ResolveLatest(res.Value, &window)
		if len(latest) > 0 {
			keys := make([]int64, 0, len(latest))
			for k := range latest {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

			results := make([]AqiResult, 0, len(keys))
			for _, k := range keys {
				loc, ok := catalog.ByKey(k)
				if !ok {
					loc = AdHocLocation(k, 0, 0)
				}
				result, err := s.liveResult(loc, latest[k])
				if err != nil {
					return nil, err
				}
				results = append(results, result)
			}
			s.recorder.RecordResult(ctx, op, ProvenanceLive)
			return results, nil
		}
		res.Outcome = OutcomeEmpty
	}

	s.logFallback(op, AllLocations(), res.Outcome, res.Err)
	s.recorder.RecordResult(ctx, op, ProvenanceSynthetic)

	locations := catalog.Locations()
	results := make([]AqiResult, 0, len(locations))
	for _, loc := range locations {
		results = append(results, s.synth.SynthesizePoint(loc))
	}
	return results, nil
}

// Hourly returns one result per hour for the last hours hours (default 24,
// max 168), oldest first.
func (s *Service) Hourly(ctx context.Context, filter LocationFilter, hours int) (HourlyResult, error) {
	const op = "hourly"

	if hours <= 0 {
		hours = DefaultHourlySpan
	}
	hours = clampInt(hours, 1, MaxHourlySpan)

	loc := s.resolveLocation(ctx, filter)
	window := LastWindow(s.now(), time.Duration(hours)*time.Hour)

	res := callGateway(ctx, s, op, func(ctx context.Context) ([]Reading, error) {
		return s.gateway.FetchReadings(ctx, filter, window)
	})

	if !res.Outcome.Fallback() {
		key, ok := s.seriesKey(filter, res.Value, window)
		if ok {
			if filter.Kind != FilterKey {
				loc = s.locationForKey(ctx, key, loc)
			}
			points, err := s.hourlyPoints(loc, key, res.Value, window)
			if err != nil {
				return HourlyResult{}, err
			}
			s.recorder.RecordResult(ctx, op, ProvenanceLive)
			return HourlyResult{Location: loc, Hours: hours, Points: points, Provenance: ProvenanceLive}, nil
		}
		res.Outcome = OutcomeEmpty
	}

	s.logFallback(op, filter, res.Outcome, res.Err)
	s.recorder.RecordResult(ctx, op, ProvenanceSynthetic)
	return HourlyResult{
		Location:   loc,
		Hours:      hours,
		Points:     s.synth.SynthesizeHourly(loc, hours),
		Provenance: ProvenanceSynthetic,
	}, nil
}

// Trend analyzes daily averages over the last days days (default 7, max 90).
func (s *Service) Trend(ctx context.Context, filter LocationFilter, days int) (TrendResult, error) {
	const op = "trend"

	if days <= 0 {
		days = DefaultTrendDays
	}
	days = clampInt(days, 1, MaxTrendDays)

	loc := s.resolveLocation(ctx, filter)
	window := LastWindow(s.now(), time.Duration(days)*24*time.Hour)

	res := callGateway(ctx, s, op, func(ctx context.Context) ([]TrendPoint, error) {
		return s.gateway.FetchDailyAggregates(ctx, filter, window)
	})

	if !res.Outcome.Fallback() {
		s.recorder.RecordResult(ctx, op, ProvenanceLive)
		return TrendResult{
			Location:   loc,
			Days:       days,
			Series:     AnalyzeTrend(res.Value),
			Provenance: ProvenanceLive,
		}, nil
	}

	s.logFallback(op, filter, res.Outcome, res.Err)
	s.recorder.RecordResult(ctx, op, ProvenanceSynthetic)
	return TrendResult{
		Location:   loc,
		Days:       days,
		Series:     AnalyzeTrend(s.synth.SynthesizeSeries(loc, days)),
		Provenance: ProvenanceSynthetic,
	}, nil
}

// Summary summarises the last SummaryDays of daily averages. An empty history is
// reported as DataQualityNoData; a failing gateway additionally marks the summary
// synthetic.
func (s *Service) Summary(ctx context.Context, filter LocationFilter) (HistorySummary, error) {
	const op = "summary"

	loc := s.resolveLocation(ctx, filter)
	window := LastWindow(s.now(), SummaryDays*24*time.Hour)

	res := callGateway(ctx, s, op, func(ctx context.Context) ([]TrendPoint, error) {
		return s.gateway.FetchDailyAggregates(ctx, filter, window)
	})

	summary := HistorySummary{
		Location:    loc,
		Days:        SummaryDays,
		DataQuality: DataQualityNoData,
		Provenance:  ProvenanceLive,
	}

	switch res.Outcome {
	case OutcomeLive:
		summarize(&summary, res.Value)
	case OutcomeEmpty:
	default:
		s.logFallback(op, filter, res.Outcome, res.Err)
		summary.Provenance = ProvenanceSynthetic
	}

	s.recorder.RecordResult(ctx, op, summary.Provenance)
	return summary, nil
}

func summarize(summary *HistorySummary, points []TrendPoint) {
	series := AnalyzeTrend(points)

	weighted := 0.0
	for _, p := range points {
		if p.SampleCount > 0 {
			summary.DaysWithData++
			weighted += p.AvgIndex * float64(p.SampleCount)
		}
	}
	summary.TotalRecords = series.TotalSamples
	summary.MinIndex = round2(series.Min)
	summary.MaxIndex = round2(series.Max)
	summary.AvgIndex = round2(series.Avg)
	if series.TotalSamples > 0 {
		summary.AvgIndex = round2(weighted / float64(series.TotalSamples))
	}

	switch {
	case summary.DaysWithData >= goodCoverageDays:
		summary.DataQuality = DataQualityGood
	case summary.DaysWithData > 0 || len(points) > 0:
		summary.DataQuality = DataQualityLimited
	}
}

// Locations returns the location catalog. It never fails: without a reachable
// gateway or a cached copy the built-in catalog is returned.
func (s *Service) Locations(ctx context.Context) []Location {
	return s.currentCatalog(ctx).Locations()
}

// InvalidateCatalog clears the cached catalog.
func (s *Service) InvalidateCatalog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = nil
	s.cacheExpiry = time.Time{}
	s.retryAt = time.Time{}
}

// CatalogStatus represents the current state of the catalog cache.
type CatalogStatus struct {
	HasData       bool
	FetchedAt     time.Time
	ExpiresAt     time.Time
	IsExpired     bool
	IsStale       bool
	LocationCount int
}

// CatalogStatus returns information about the catalog cache.
func (s *Service) CatalogStatus() CatalogStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.catalog == nil {
		return CatalogStatus{}
	}

	now := s.now()
	return CatalogStatus{
		HasData:       true,
		FetchedAt:     s.fetchedAt,
		ExpiresAt:     s.cacheExpiry,
		IsExpired:     now.After(s.cacheExpiry),
		IsStale:       now.After(s.fetchedAt.Add(s.staleIfErrorTTL)),
		LocationCount: s.catalog.Len(),
	}
}

func (s *Service) currentCatalog(ctx context.Context) *Catalog {
	s.mu.RLock()
	now := s.now()
	if s.catalog != nil && now.Before(s.cacheExpiry) {
		catalog := s.catalog
		s.mu.RUnlock()
		return catalog
	}
	backingOff := now.Before(s.retryAt)
	s.mu.RUnlock()

	if backingOff {
		return s.fallbackCatalog()
	}
	return s.refreshCatalog(ctx)
}

// refreshCatalog fetches the catalog outside the lock. Concurrent callers
// share one gateway call; a caller whose context ends first gets the fallback.
func (s *Service) refreshCatalog(ctx context.Context) *Catalog {
	ch := s.refresh.DoChan("catalog", func() (any, error) {
		return s.fetchCatalog(context.WithoutCancel(ctx)), nil
	})

	select {
	case r := <-ch:
		return r.Val.(*Catalog)
	case <-ctx.Done():
		return s.fallbackCatalog()
	}
}

func (s *Service) fetchCatalog(ctx context.Context) *Catalog {
	s.mu.RLock()
	if s.catalog != nil && s.now().Before(s.cacheExpiry) {
		catalog := s.catalog
		s.mu.RUnlock()
		return catalog
	}
	s.mu.RUnlock()

	res := callGateway(ctx, s, "catalog", s.gateway.FetchLocationCatalog)
	if res.Outcome == OutcomeLive {
		catalog := NewCatalog(res.Value)
		fetchedAt := s.now()
		expiry := fetchedAt.Add(s.catalogTTL)

		s.mu.Lock()
		s.catalog = catalog
		s.fetchedAt = fetchedAt
		s.cacheExpiry = expiry
		s.retryAt = time.Time{}
		s.mu.Unlock()

		s.logger.Info().
			Int("locations", catalog.Len()).
			Time("expires_at", expiry).
			Msg("location catalog refreshed")
		return catalog
	}

	s.mu.Lock()
	s.retryAt = s.now().Add(s.catalogRetry)
	s.mu.Unlock()

	catalog := s.fallbackCatalog()
	s.logger.Warn().
		Err(res.Err).
		Str("outcome", string(res.Outcome)).
		Bool("stale", catalog != s.builtin).
		Msg("location catalog refresh failed")
	return catalog
}

// fallbackCatalog returns the cached catalog while it is within the stale
// window, otherwise the built-in one.
func (s *Service) fallbackCatalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog != nil && s.now().Before(s.fetchedAt.Add(s.staleIfErrorTTL)) {
		return s.catalog
	}
	return s.builtin
}

func (s *Service) resolveLocation(ctx context.Context, filter LocationFilter) Location {
	switch filter.Kind {
	case FilterKey:
		if loc, ok := s.currentCatalog(ctx).ByKey(filter.Key); ok {
			return loc
		}
		return AdHocLocation(filter.Key, 0, 0)
	case FilterProximity:
		if loc, ok := s.currentCatalog(ctx).Match(filter.Latitude, filter.Longitude); ok {
			return loc
		}
		return AdHocLocation(0, filter.Latitude, filter.Longitude)
	default:
		return AdHocLocation(0, 0, 0)
	}
}

func (s *Service) locationForKey(ctx context.Context, key int64, fallback Location) Location {
	if loc, ok := s.currentCatalog(ctx).ByKey(key); ok {
		return loc
	}
	if fallback.Key == 0 {
		fallback.Key = key
	}
	return fallback
}

// seriesKey picks the location an hourly series is built for.
func (s *Service) seriesKey(filter LocationFilter, readings []Reading, window Window) (int64, bool) {
	latest := ResolveLatest(readings, &window)
	if filter.Kind == FilterKey {
		_, ok := latest[filter.Key]
		return filter.Key, ok
	}
	r, ok := newestOf(latest)
	return r.LocationKey, ok
}

func (s *Service) hourlyPoints(loc Location, key int64, readings []Reading, window Window) ([]AqiResult, error) {
	buckets := make(map[time.Time][]Reading)
	for _, r := range readings {
		if r.LocationKey != key || !window.Contains(r.Timestamp) {
			continue
		}
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		buckets[hour] = append(buckets[hour], r)
	}

	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	points := make([]AqiResult, 0, len(hours))
	for _, h := range hours {
		reading := ResolveLatest(buckets[h], nil)[key]
		result, err := s.liveResult(loc, reading)
		if err != nil {
			return nil, err
		}
		points = append(points, result)
	}
	return points, nil
}

func (s *Service) liveResult(loc Location, r Reading) (AqiResult, error) {
	index, err := s.interp.Compute(s.pollutant, r.Value(s.pollutant))
	if err != nil {
		return AqiResult{}, fmt.Errorf("compute index: %w", err)
	}
	if index == nil && r.AQITotal != nil {
		index = intPtr(clampInt(int(math.Round(*r.AQITotal)), 0, MaxIndex))
	}

	result := AqiResult{
		Location:   loc,
		Timestamp:  r.Timestamp,
		Index:      index,
		Pollutant:  s.pollutant,
		Provenance: ProvenanceLive,
		Reading:    r,
	}
	if index != nil {
		result.Category = CategoryFor(*index)
	}
	return result, nil
}

func (s *Service) logFallback(op string, filter LocationFilter, outcome FetchOutcome, err error) {
	event := s.logger.Info()
	if outcome == OutcomeUnavailable || outcome == OutcomeTimeout {
		event = s.logger.Warn().Err(err)
	}
	event.
		Str("operation", op).
		Str("filter", filter.String()).
		Str("outcome", string(outcome)).
		Msg("serving synthetic air quality data")
}

// callGateway runs fn under the service timeout and classifies its outcome. The
// call is abandoned when the timeout fires even if fn ignores its context.
func callGateway[T any](ctx context.Context, s *Service, op string, fn func(context.Context) ([]T, error)) Result[T] {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type reply struct {
		value []T
		err   error
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		v, err := fn(ctx)
		done <- reply{value: v, err: err}
	}()

	var res Result[T]
	select {
	case r := <-done:
		res = NewResult(r.value, ClassifyGatewayError(op, r.err))
	case <-ctx.Done():
		res = NewResult[T](nil, ClassifyGatewayError(op, ctx.Err()))
	}

	s.recorder.RecordGatewayCall(ctx, op, res.Outcome, time.Since(start))
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
