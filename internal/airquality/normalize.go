package airquality

import (
	"math"
	"sort"
)

// WeatherDefaults are substituted for missing weather values. Pollutant values are
// never defaulted: a missing concentration stays nil.
type WeatherDefaults struct {
	Temperature   float64
	Humidity      float64
	WindSpeed     float64
	WindDirection float64
	Pressure      float64
}

// DefaultWeather returns the documented weather defaults.
func DefaultWeather() WeatherDefaults {
	return WeatherDefaults{
		Temperature:   25.0,
		Humidity:      60.0,
		WindSpeed:     5.0,
		WindDirection: 0.0,
		Pressure:      1013.0,
	}
}

// NormalizeReading drops non-finite values and fills missing weather fields.
// Gateways apply it once to every row they return.
func NormalizeReading(r Reading, d WeatherDefaults) Reading {
	r.PM25 = finite(r.PM25)
	r.PM10 = finite(r.PM10)
	r.AQITotal = finite(r.AQITotal)
	r.Temperature = orDefault(finite(r.Temperature), d.Temperature)
	r.Humidity = orDefault(finite(r.Humidity), d.Humidity)
	r.WindSpeed = orDefault(finite(r.WindSpeed), d.WindSpeed)
	r.WindDirection = orDefault(finite(r.WindDirection), d.WindDirection)
	r.Pressure = orDefault(finite(r.Pressure), d.Pressure)
	return r
}

// NormalizeTrendPoints drops points with a non-finite average and sorts the rest
// by ascending date. The input slice is not modified.
func NormalizeTrendPoints(points []TrendPoint) []TrendPoint {
	out := make([]TrendPoint, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.AvgIndex) || math.IsInf(p.AvgIndex, 0) {
			continue
		}
		if p.SampleCount < 0 {
			p.SampleCount = 0
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

func orDefault(v *float64, def float64) *float64 {
	if v == nil {
		return float64Ptr(def)
	}
	return v
}
