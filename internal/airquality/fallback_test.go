package airquality_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func seededSynthesizer(seed int64) *airquality.Synthesizer {
	return airquality.NewSynthesizer(airquality.SynthesizerConfig{
		Seed: &seed,
		Now:  func() time.Time { return fixedNow },
	})
}

func assertComplete(t *testing.T, r airquality.AqiResult) {
	t.Helper()

	assert.Equal(t, airquality.ProvenanceSynthetic, r.Provenance)
	require.NotNil(t, r.Index)
	assert.GreaterOrEqual(t, *r.Index, 40)
	assert.LessOrEqual(t, *r.Index, 80)
	assert.Equal(t, airquality.CategoryFor(*r.Index), r.Category)
	assert.False(t, r.Timestamp.IsZero())

	reading := r.Reading
	for name, v := range map[string]*float64{
		"pm2_5":          reading.PM25,
		"pm10":           reading.PM10,
		"temperature":    reading.Temperature,
		"humidity":       reading.Humidity,
		"wind_speed":     reading.WindSpeed,
		"wind_direction": reading.WindDirection,
		"pressure":       reading.Pressure,
		"aqi_total":      reading.AQITotal,
	} {
		require.NotNil(t, v, "%s missing", name)
	}

	assert.GreaterOrEqual(t, *reading.PM25, 0.0)
	assert.GreaterOrEqual(t, *reading.PM10, 0.0)
	assert.InDelta(t, 28, *reading.Temperature, 3.05)
	assert.GreaterOrEqual(t, *reading.Humidity, 0.0)
	assert.LessOrEqual(t, *reading.Humidity, 100.0)
	assert.GreaterOrEqual(t, *reading.WindSpeed, 2.0)
	assert.LessOrEqual(t, *reading.WindSpeed, 5.0)
	assert.GreaterOrEqual(t, *reading.WindDirection, 0.0)
	assert.LessOrEqual(t, *reading.WindDirection, 360.0)
	assert.InDelta(t, 1013, *reading.Pressure, 5.05)
}

func TestSynthesizer_SynthesizePoint(t *testing.T) {
	s := seededSynthesizer(1)
	loc := airquality.AdHocLocation(99, 0, 0)

	for i := 0; i < 100; i++ {
		r := s.SynthesizePoint(loc)
		assertComplete(t, r)
		assert.Equal(t, loc, r.Location)
		assert.Equal(t, int64(99), r.Reading.LocationKey)
		assert.Equal(t, fixedNow.Truncate(time.Hour), r.Timestamp)
	}
}

func TestSynthesizer_ConcentrationsMatchIndex(t *testing.T) {
	s := seededSynthesizer(5)
	interp := airquality.NewInterpolator(nil)

	for _, r := range s.SynthesizeHourly(airquality.DefaultLocations()[0], 48) {
		pm25, err := interp.Compute(airquality.PollutantPM25, r.Reading.PM25)
		require.NoError(t, err)
		require.NotNil(t, pm25)
		assert.Equal(t, *r.Index, *pm25, "pm2_5 %v", *r.Reading.PM25)

		pm10, err := interp.Compute(airquality.PollutantPM10, r.Reading.PM10)
		require.NoError(t, err)
		require.NotNil(t, pm10)
		assert.Equal(t, *r.Index, *pm10, "pm10 %v", *r.Reading.PM10)
	}
}

func TestSynthesizer_CustomTableMissingPM10(t *testing.T) {
	table, err := airquality.NewBreakpointTable(map[airquality.Pollutant][]airquality.Breakpoint{
		airquality.PollutantPM25: airquality.DefaultBreakpoints()[airquality.PollutantPM25],
	})
	require.NoError(t, err)

	seed := int64(2)
	s := airquality.NewSynthesizer(airquality.SynthesizerConfig{
		Seed:         &seed,
		Now:          func() time.Time { return fixedNow },
		Interpolator: airquality.NewInterpolator(table),
	})

	r := s.SynthesizePoint(airquality.DefaultLocations()[0])
	assertComplete(t, r)
	assert.Positive(t, *r.Reading.PM10)
}

func TestSynthesizer_Deterministic(t *testing.T) {
	loc := airquality.DefaultLocations()[0]

	a := seededSynthesizer(7)
	b := seededSynthesizer(7)

	assert.Equal(t, a.SynthesizePoint(loc), b.SynthesizePoint(loc))
	assert.Equal(t, a.SynthesizeSeries(loc, 30), b.SynthesizeSeries(loc, 30))
	assert.Equal(t, a.SynthesizeHourly(loc, 24), b.SynthesizeHourly(loc, 24))
}

func TestSynthesizer_SynthesizeSeries(t *testing.T) {
	s := seededSynthesizer(3)
	loc := airquality.DefaultLocations()[5]

	points := s.SynthesizeSeries(loc, 7)
	require.Len(t, points, 7)

	today := fixedNow.Truncate(24 * time.Hour)
	assert.Equal(t, today, points[6].Date)
	assert.Equal(t, today.AddDate(0, 0, -6), points[0].Date)

	for i, p := range points {
		if i > 0 {
			assert.True(t, p.Date.After(points[i-1].Date), "dates ascend")
		}
		assert.GreaterOrEqual(t, p.AvgIndex, 40.0)
		assert.LessOrEqual(t, p.AvgIndex, 80.0)
		assert.GreaterOrEqual(t, p.SampleCount, 20)
		assert.LessOrEqual(t, p.SampleCount, 50)
	}
}

func TestSynthesizer_SeriesCountClamped(t *testing.T) {
	s := seededSynthesizer(3)
	loc := airquality.DefaultLocations()[0]

	assert.Len(t, s.SynthesizeSeries(loc, 0), 1)
	assert.Len(t, s.SynthesizeSeries(loc, 1000), 365)
}

func TestSynthesizer_SynthesizeHourly(t *testing.T) {
	s := seededSynthesizer(5)
	loc := airquality.DefaultLocations()[0]

	points := s.SynthesizeHourly(loc, 24)
	require.Len(t, points, 24)

	assert.Equal(t, fixedNow.Truncate(time.Hour), points[23].Timestamp)
	for i, p := range points {
		assertComplete(t, p)
		if i > 0 {
			assert.Equal(t, time.Hour, p.Timestamp.Sub(points[i-1].Timestamp))
		}
	}

	assert.Len(t, s.SynthesizeHourly(loc, -1), 1)
	assert.Len(t, s.SynthesizeHourly(loc, 10000), 336)
}

func TestSynthesizer_ConcurrentUse(t *testing.T) {
	s := airquality.NewSynthesizer(airquality.SynthesizerConfig{})
	loc := airquality.DefaultLocations()[0]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.SynthesizePoint(loc)
				s.SynthesizeSeries(loc, 3)
			}
		}()
	}
	wg.Wait()
}
