// Package airquality computes air quality indices, resolves the latest reading per
// monitoring location and falls back to synthesized data when the backing store
// cannot answer.
package airquality

import (
	"errors"
	"time"
)

// Core errors. ErrUnknownPollutant and ErrMalformedBreakpoints are configuration
// errors and propagate to callers; gateway errors are absorbed by Service.
var (
	ErrUnknownPollutant     = errors.New("unknown pollutant")
	ErrMalformedBreakpoints = errors.New("malformed breakpoint table")
	ErrGatewayUnavailable   = errors.New("data gateway unavailable")
	ErrGatewayTimeout       = errors.New("data gateway timeout")
	ErrLocationNotFound     = errors.New("location not found")
)

// MaxIndex is the saturation value of the index scale.
const MaxIndex = 500

// Pollutant identifies a measured pollutant. Values match the fact table columns.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm2_5"
	PollutantPM10 Pollutant = "pm10"
)

// Category is the health category of an index value.
type Category string

const (
	CategoryGood               Category = "good"
	CategoryModerate           Category = "moderate"
	CategoryUnhealthySensitive Category = "unhealthy_sensitive"
	CategoryUnhealthy          Category = "unhealthy"
	CategoryVeryUnhealthy      Category = "very_unhealthy"
	CategoryHazardous          Category = "hazardous"
)

// AllCategories lists categories from best to worst.
func AllCategories() []Category {
	return []Category{
		CategoryGood,
		CategoryModerate,
		CategoryUnhealthySensitive,
		CategoryUnhealthy,
		CategoryVeryUnhealthy,
		CategoryHazardous,
	}
}

// Provenance tells callers whether a result came from stored measurements or from
// the fallback synthesizer.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceSynthetic Provenance = "synthetic"
)

// Location is a named monitoring location from the catalog.
type Location struct {
	Key       int64
	Code      string
	Name      string
	District  string
	Latitude  float64
	Longitude float64
}

// Reading is one sampling interval at one location. Optional values are nil when
// the sensor reported nothing.
type Reading struct {
	LocationKey   int64
	Timestamp     time.Time
	PM25          *float64
	PM10          *float64
	Temperature   *float64
	Humidity      *float64
	WindSpeed     *float64
	WindDirection *float64
	Pressure      *float64

	// AQITotal is the index precomputed by the ingestion pipeline, if any.
	AQITotal *float64

	// Seq is the ingestion order assigned by the gateway. Lower is older.
	Seq int64
}

// Value returns the concentration for a pollutant, or nil.
func (r Reading) Value(p Pollutant) *float64 {
	switch p {
	case PollutantPM25:
		return r.PM25
	case PollutantPM10:
		return r.PM10
	default:
		return nil
	}
}

// AqiResult is a derived index for a location at a point in time.
type AqiResult struct {
	Location   Location
	Timestamp  time.Time
	Index      *int
	Category   Category
	Pollutant  Pollutant
	Provenance Provenance
	Reading    Reading
}

// TrendPoint is one daily (or hourly) aggregate.
type TrendPoint struct {
	Date        time.Time
	AvgIndex    float64
	SampleCount int
}

// Direction is the derived direction of a trend series.
type Direction string

const (
	DirectionRising           Direction = "rising"
	DirectionFalling          Direction = "falling"
	DirectionFlat             Direction = "flat"
	DirectionInsufficientData Direction = "insufficient_data"
)

// TrendSeries is an ordered series with its derived statistics.
type TrendSeries struct {
	Points        []TrendPoint
	Direction     Direction
	PercentChange float64
	Avg           float64
	Max           float64
	Min           float64
	TotalSamples  int
}

// TrendResult is a trend series for one location, tagged with its provenance.
type TrendResult struct {
	Location   Location
	Days       int
	Series     TrendSeries
	Provenance Provenance
}

// HourlyResult is an hourly series of index results for one location.
type HourlyResult struct {
	Location   Location
	Hours      int
	Points     []AqiResult
	Provenance Provenance
}

// DataQuality grades how much history backs a summary.
type DataQuality string

const (
	DataQualityGood    DataQuality = "good"
	DataQualityLimited DataQuality = "limited"
	DataQualityNoData  DataQuality = "no_data"
)

// HistorySummary summarises the last SummaryDays of daily aggregates.
type HistorySummary struct {
	Location     Location
	Days         int
	TotalRecords int
	DaysWithData int
	AvgIndex     float64
	MinIndex     float64
	MaxIndex     float64
	DataQuality  DataQuality
	Provenance   Provenance
}

func float64Ptr(v float64) *float64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}
