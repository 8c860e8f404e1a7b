package airquality

import "math"

// Interpolator converts pollutant concentrations into index values by linear
// interpolation within a BreakpointTable.
type Interpolator struct {
	table *BreakpointTable
}

// NewInterpolator creates an interpolator. A nil table uses DefaultBreakpointTable.
func NewInterpolator(table *BreakpointTable) *Interpolator {
	if table == nil {
		table = DefaultBreakpointTable()
	}
	return &Interpolator{table: table}
}

// Table returns the breakpoint table in use.
func (i *Interpolator) Table() *BreakpointTable {
	return i.table
}

// Compute returns the index for a concentration.
//
// A nil concentration yields a nil index. Negative values are clamped to zero and
// values above the last range saturate at MaxIndex. A value on a shared boundary,
// or in the gap between two ranges, belongs to the lower range.
func (i *Interpolator) Compute(p Pollutant, concentration *float64) (*int, error) {
	bps, ok := i.table.rangesNoCopy(p)
	if !ok {
		_, err := i.table.RangesFor(p)
		return nil, err
	}
	if concentration == nil {
		return nil, nil
	}

	c := *concentration
	if math.IsNaN(c) {
		return nil, nil
	}
	if c < 0 {
		c = 0
	}

	for n, bp := range bps {
		if c > bp.ConcHigh {
			continue
		}
		if c < bp.ConcLow {
			if n == 0 {
				return intPtr(bp.IndexLow), nil
			}
			return intPtr(bps[n-1].IndexHigh), nil
		}
		return intPtr(interpolate(bp, c)), nil
	}
	return intPtr(MaxIndex), nil
}

// Concentration is the inverse of Compute: it returns a concentration whose
// index is index. Indexes past the last range map to its upper bound.
func (i *Interpolator) Concentration(p Pollutant, index int) (float64, error) {
	bps, ok := i.table.rangesNoCopy(p)
	if !ok {
		_, err := i.table.RangesFor(p)
		return 0, err
	}
	if index <= bps[0].IndexLow {
		return bps[0].ConcLow, nil
	}

	for _, bp := range bps {
		if index > bp.IndexHigh {
			continue
		}
		span := float64(index-bp.IndexLow) / float64(bp.IndexHigh-bp.IndexLow)
		return bp.ConcLow + span*(bp.ConcHigh-bp.ConcLow), nil
	}
	return bps[len(bps)-1].ConcHigh, nil
}

func interpolate(bp Breakpoint, c float64) int {
	slope := float64(bp.IndexHigh-bp.IndexLow) / (bp.ConcHigh - bp.ConcLow)
	// math.Round rounds half away from zero.
	return int(math.Round(slope*(c-bp.ConcLow) + float64(bp.IndexLow)))
}

// CategoryFor maps an index value onto its health category.
func CategoryFor(index int) Category {
	switch {
	case index <= 50:
		return CategoryGood
	case index <= 100:
		return CategoryModerate
	case index <= 150:
		return CategoryUnhealthySensitive
	case index <= 200:
		return CategoryUnhealthy
	case index <= 300:
		return CategoryVeryUnhealthy
	default:
		return CategoryHazardous
	}
}
