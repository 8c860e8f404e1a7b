package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

// ErrNoLiveData is returned by HealthCheck when the store could not answer.
var ErrNoLiveData = errors.New("worker: no live data for health check location")

// AQIService is the part of airquality.Service the sweep needs.
type AQIService interface {
	Locations(ctx context.Context) []airquality.Location
	CurrentAQI(ctx context.Context, filter airquality.LocationFilter) (airquality.AqiResult, error)
}

// SweepJob resolves the current index for every catalog location and counts
// how many answers came from the store.
type SweepJob struct {
	config  SweepConfig
	service AQIService
	logger  zerolog.Logger

	metrics *SweepMetrics
}

// SweepMetrics tracks sweep statistics across runs.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalSweeps      int64
	LiveResults      int64
	SyntheticResults int64
	FailedResults    int64

	LastSweepID       string
	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	LastCoverage      float64
	TotalDuration     time.Duration
}

// SweepJobConfig holds configuration for creating a SweepJob.
type SweepJobConfig struct {
	Config  SweepConfig
	Service AQIService
	Logger  zerolog.Logger
}

// NewSweepJob creates a new sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	return &SweepJob{
		config:  cfg.Config.withDefaults(),
		service: cfg.Service,
		logger:  cfg.Logger,
		metrics: &SweepMetrics{},
	}
}

// SweepResult contains the outcome of one sweep.
type SweepResult struct {
	ID             string
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	TotalLocations int
	Live           int
	Synthetic      int
	Failed         int
	Errors         []SweepError
}

// Coverage is the share of locations answered from the store, in [0, 1].
func (r *SweepResult) Coverage() float64 {
	if r.TotalLocations == 0 {
		return 0
	}
	return float64(r.Live) / float64(r.TotalLocations)
}

// SweepError records a location whose index could not be produced at all.
type SweepError struct {
	LocationKey int64
	Location    string
	Error       string
}

type locationResult struct {
	location   airquality.Location
	provenance airquality.Provenance
	err        error
}

// Run sweeps every location in the catalog.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	startTime := time.Now()
	locations := j.service.Locations(ctx)
	result := &SweepResult{
		ID:             uuid.NewString(),
		StartTime:      startTime,
		TotalLocations: len(locations),
	}

	logger := j.logger.With().Str("sweep_id", result.ID).Logger()
	logger.Info().
		Int("total_locations", result.TotalLocations).
		Int("concurrency", j.config.Concurrency).
		Msg("starting coverage sweep")

	locationsChan := make(chan airquality.Location, len(locations))
	resultsChan := make(chan locationResult, len(locations))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.sweepWorker(ctx, locationsChan, resultsChan)
		}()
	}

	for _, loc := range locations {
		locationsChan <- loc
	}
	close(locationsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for lr := range resultsChan {
		switch {
		case lr.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, SweepError{
				LocationKey: lr.location.Key,
				Location:    lr.location.Name,
				Error:       lr.err.Error(),
			})
		case lr.provenance == airquality.ProvenanceLive:
			result.Live++
		default:
			result.Synthetic++
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	event := logger.Info()
	if result.Live == 0 && result.TotalLocations > 0 {
		event = logger.Warn()
	}
	event.
		Dur("duration", result.Duration).
		Int("live", result.Live).
		Int("synthetic", result.Synthetic).
		Int("failed", result.Failed).
		Float64("coverage", result.Coverage()).
		Msg("coverage sweep completed")

	return result
}

func (j *SweepJob) sweepWorker(ctx context.Context, locations <-chan airquality.Location, results chan<- locationResult) {
	for loc := range locations {
		select {
		case <-ctx.Done():
			results <- locationResult{location: loc, err: ctx.Err()}
		default:
			results <- j.sweepLocation(ctx, loc)
		}
	}
}

func (j *SweepJob) sweepLocation(ctx context.Context, loc airquality.Location) locationResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	res, err := j.service.CurrentAQI(ctx, airquality.ByKey(loc.Key))
	if err != nil {
		return locationResult{location: loc, err: err}
	}
	return locationResult{location: loc, provenance: res.Provenance}
}

// HealthCheck queries the first catalog location and fails unless the store
// answered.
func (j *SweepJob) HealthCheck(ctx context.Context) error {
	locations := j.service.Locations(ctx)
	if len(locations) == 0 {
		return fmt.Errorf("%w: empty catalog", ErrNoLiveData)
	}

	check := j.sweepLocation(ctx, locations[0])
	if check.err != nil {
		return check.err
	}
	if check.provenance != airquality.ProvenanceLive {
		return fmt.Errorf("%w: location %d", ErrNoLiveData, check.location.Key)
	}
	return nil
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalSweeps++
	j.metrics.LiveResults += int64(result.Live)
	j.metrics.SyntheticResults += int64(result.Synthetic)
	j.metrics.FailedResults += int64(result.Failed)
	j.metrics.LastSweepID = result.ID
	j.metrics.LastSweepAt = result.EndTime
	j.metrics.LastSweepDuration = result.Duration
	j.metrics.LastCoverage = result.Coverage()
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalSweeps:       j.metrics.TotalSweeps,
		LiveResults:       j.metrics.LiveResults,
		SyntheticResults:  j.metrics.SyntheticResults,
		FailedResults:     j.metrics.FailedResults,
		LastSweepID:       j.metrics.LastSweepID,
		LastSweepAt:       j.metrics.LastSweepAt,
		LastSweepDuration: j.metrics.LastSweepDuration,
		LastCoverage:      j.metrics.LastCoverage,
		TotalDuration:     j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_sweeps":        m.TotalSweeps,
		"live_results":        m.LiveResults,
		"synthetic_results":   m.SyntheticResults,
		"failed_results":      m.FailedResults,
		"last_sweep_id":       m.LastSweepID,
		"last_sweep_at":       m.LastSweepAt,
		"last_sweep_duration": m.LastSweepDuration.String(),
		"last_coverage":       m.LastCoverage,
		"total_duration":      m.TotalDuration.String(),
	}
}
