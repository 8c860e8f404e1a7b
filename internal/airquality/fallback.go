package airquality

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Synthesized value ranges. Each value is base plus uniform jitter in
// [-jitter, +jitter] unless noted.
const (
	synthAQIBase       = 60
	synthAQIJitter     = 20
	synthTempBase      = 28.0
	synthTempJitter    = 3.0
	synthHumidityBase  = 60.0
	synthHumidityJit   = 15.0
	synthWindBase      = 3.0
	synthWindMinJit    = -1.0
	synthWindMaxJit    = 2.0
	synthPressureBase  = 1013.0
	synthPressureJit   = 5.0
	synthMinSamples    = 20
	synthMaxSamples    = 50
	maxSynthesizedDays = 365
	maxSynthesizedHrs  = 24 * 14
)

// SynthesizerConfig configures a Synthesizer.
type SynthesizerConfig struct {
	// Seed makes output deterministic. Nil seeds from the clock.
	Seed *int64

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Interpolator maps synthetic indexes back to concentrations
	// (default: EPA table).
	Interpolator *Interpolator
}

// Synthesizer produces bounded, clearly marked substitute data when no stored
// measurements are available. It never fails and is safe for concurrent use.
type Synthesizer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	now    func() time.Time
	interp *Interpolator
}

var defaultInterpolator = NewInterpolator(nil)

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	seed := time.Now().UnixNano()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interp := cfg.Interpolator
	if interp == nil {
		interp = defaultInterpolator
	}
	return &Synthesizer{
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // synthetic data, not security sensitive
		now:    now,
		interp: interp,
	}
}

// SynthesizePoint returns a complete synthetic result for loc.
func (s *Synthesizer) SynthesizePoint(loc Location) AqiResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Truncate(time.Hour)
	return s.point(loc, ts)
}

// SynthesizeHourly returns hours synthetic results, one per hour, ending at the
// current hour. hours is clamped to [1, 336].
func (s *Synthesizer) SynthesizeHourly(loc Location, hours int) []AqiResult {
	hours = clampInt(hours, 1, maxSynthesizedHrs)

	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.now().UTC().Truncate(time.Hour)
	out := make([]AqiResult, 0, hours)
	for i := hours - 1; i >= 0; i-- {
		out = append(out, s.point(loc, end.Add(-time.Duration(i)*time.Hour)))
	}
	return out
}

// SynthesizeSeries returns count daily points in ascending date order, ending
// today. count is clamped to [1, 365].
func (s *Synthesizer) SynthesizeSeries(loc Location, count int) []TrendPoint {
	count = clampInt(count, 1, maxSynthesizedDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().UTC().Truncate(24 * time.Hour)
	out := make([]TrendPoint, 0, count)
	for i := count - 1; i >= 0; i-- {
		out = append(out, TrendPoint{
			Date:        today.AddDate(0, 0, -i),
			AvgIndex:    round1(float64(s.index())),
			SampleCount: synthMinSamples + s.rng.Intn(synthMaxSamples-synthMinSamples+1),
		})
	}
	return out
}

// point must be called with s.mu held.
func (s *Synthesizer) point(loc Location, ts time.Time) AqiResult {
	idx := s.index()
	aqi := float64(idx)

	reading := Reading{
		LocationKey:   loc.Key,
		Timestamp:     ts,
		PM25:          float64Ptr(s.concentration(PollutantPM25, idx)),
		PM10:          float64Ptr(s.concentration(PollutantPM10, idx)),
		Temperature:   float64Ptr(round1(synthTempBase + s.jitter(synthTempJitter))),
		Humidity:      float64Ptr(round1(clampFloat(synthHumidityBase+s.jitter(synthHumidityJit), 0, 100))),
		WindSpeed:     float64Ptr(round1(math.Max(0, synthWindBase+s.between(synthWindMinJit, synthWindMaxJit)))),
		WindDirection: float64Ptr(round1(s.between(0, 360))),
		Pressure:      float64Ptr(round1(synthPressureBase + s.jitter(synthPressureJit))),
		AQITotal:      float64Ptr(aqi),
	}

	return AqiResult{
		Location:   loc,
		Timestamp:  ts,
		Index:      intPtr(idx),
		Category:   CategoryFor(idx),
		Pollutant:  PollutantPM25,
		Provenance: ProvenanceSynthetic,
		Reading:    reading,
	}
}

// concentration returns the rounded concentration of p at index. Pollutants
// missing from a custom table use the EPA ranges.
func (s *Synthesizer) concentration(p Pollutant, index int) float64 {
	c, err := s.interp.Concentration(p, index)
	if err != nil {
		c, _ = defaultInterpolator.Concentration(p, index)
	}
	return round1(c)
}

func (s *Synthesizer) index() int {
	v := synthAQIBase - synthAQIJitter + s.rng.Intn(2*synthAQIJitter+1)
	return clampInt(v, 0, MaxIndex)
}

func (s *Synthesizer) jitter(j float64) float64 {
	return s.between(-j, j)
}

func (s *Synthesizer) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
