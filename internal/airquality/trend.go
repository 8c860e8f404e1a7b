package airquality

import "math"

// AnalyzeTrend derives direction, percent change and summary statistics from an
// ascending series. Direction compares the last point against the first.
func AnalyzeTrend(points []TrendPoint) TrendSeries {
	series := TrendSeries{
		Points:    append([]TrendPoint(nil), points...),
		Direction: DirectionInsufficientData,
	}
	if len(points) == 0 {
		return series
	}

	sum := 0.0
	series.Max = math.Inf(-1)
	series.Min = math.Inf(1)
	for _, p := range points {
		sum += p.AvgIndex
		series.Max = math.Max(series.Max, p.AvgIndex)
		series.Min = math.Min(series.Min, p.AvgIndex)
		series.TotalSamples += p.SampleCount
	}
	series.Avg = sum / float64(len(points))

	if len(points) < 2 {
		return series
	}

	first := points[0].AvgIndex
	last := points[len(points)-1].AvgIndex
	switch {
	case last > first:
		series.Direction = DirectionRising
	case last < first:
		series.Direction = DirectionFalling
	default:
		series.Direction = DirectionFlat
	}

	// A zero baseline has no meaningful relative change.
	if first > 0 {
		series.PercentChange = math.Abs(last-first) / first * 100
	}
	return series
}
