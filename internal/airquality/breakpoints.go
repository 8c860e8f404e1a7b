package airquality

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Breakpoint maps a concentration range onto an index range.
type Breakpoint struct {
	IndexLow  int     `yaml:"index_low"`
	IndexHigh int     `yaml:"index_high"`
	ConcLow   float64 `yaml:"conc_low"`
	ConcHigh  float64 `yaml:"conc_high"`
}

// BreakpointTable holds the validated, ascending breakpoint ranges per pollutant.
// It is immutable after construction and safe for concurrent use.
type BreakpointTable struct {
	ranges map[Pollutant][]Breakpoint
}

// NewBreakpointTable validates the given ranges and builds a table.
// Every problem found is reported, wrapped in ErrMalformedBreakpoints.
func NewBreakpointTable(ranges map[Pollutant][]Breakpoint) (*BreakpointTable, error) {
	var result *multierror.Error
	if len(ranges) == 0 {
		result = multierror.Append(result, fmt.Errorf("no pollutants configured"))
	}

	table := &BreakpointTable{ranges: make(map[Pollutant][]Breakpoint, len(ranges))}
	for pollutant, bps := range ranges {
		if err := validateRanges(pollutant, bps); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		table.ranges[pollutant] = append([]Breakpoint(nil), bps...)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBreakpoints, err)
	}
	return table, nil
}

// MustBreakpointTable is like NewBreakpointTable but panics on error.
// Intended for package-level tables known at compile time.
func MustBreakpointTable(ranges map[Pollutant][]Breakpoint) *BreakpointTable {
	t, err := NewBreakpointTable(ranges)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultBreakpoints returns the US EPA PM2.5 and PM10 ranges.
func DefaultBreakpoints() map[Pollutant][]Breakpoint {
	return map[Pollutant][]Breakpoint{
		PollutantPM25: {
			{IndexLow: 0, IndexHigh: 50, ConcLow: 0.0, ConcHigh: 12.0},
			{IndexLow: 51, IndexHigh: 100, ConcLow: 12.1, ConcHigh: 35.4},
			{IndexLow: 101, IndexHigh: 150, ConcLow: 35.5, ConcHigh: 55.4},
			{IndexLow: 151, IndexHigh: 200, ConcLow: 55.5, ConcHigh: 150.4},
			{IndexLow: 201, IndexHigh: 300, ConcLow: 150.5, ConcHigh: 250.4},
			{IndexLow: 301, IndexHigh: 500, ConcLow: 250.5, ConcHigh: 500.4},
		},
		PollutantPM10: {
			{IndexLow: 0, IndexHigh: 50, ConcLow: 0, ConcHigh: 54},
			{IndexLow: 51, IndexHigh: 100, ConcLow: 55, ConcHigh: 154},
			{IndexLow: 101, IndexHigh: 150, ConcLow: 155, ConcHigh: 254},
			{IndexLow: 151, IndexHigh: 200, ConcLow: 255, ConcHigh: 354},
			{IndexLow: 201, IndexHigh: 300, ConcLow: 355, ConcHigh: 424},
			{IndexLow: 301, IndexHigh: 400, ConcLow: 425, ConcHigh: 504},
			{IndexLow: 401, IndexHigh: 500, ConcLow: 505, ConcHigh: 604},
		},
	}
}

// DefaultBreakpointTable returns a table holding DefaultBreakpoints.
func DefaultBreakpointTable() *BreakpointTable {
	return MustBreakpointTable(DefaultBreakpoints())
}

// RangesFor returns a copy of the ascending ranges configured for a pollutant.
func (t *BreakpointTable) RangesFor(p Pollutant) ([]Breakpoint, error) {
	bps, ok := t.ranges[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPollutant, p)
	}
	return append([]Breakpoint(nil), bps...), nil
}

// Pollutants returns the configured pollutants in lexical order.
func (t *BreakpointTable) Pollutants() []Pollutant {
	out := make([]Pollutant, 0, len(t.ranges))
	for p := range t.ranges {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether the pollutant is configured.
func (t *BreakpointTable) Has(p Pollutant) bool {
	_, ok := t.ranges[p]
	return ok
}

// rangesNoCopy returns the table's own slice; callers must not modify it.
func (t *BreakpointTable) rangesNoCopy(p Pollutant) ([]Breakpoint, bool) {
	bps, ok := t.ranges[p]
	return bps, ok
}

func validateRanges(p Pollutant, bps []Breakpoint) error {
	var result *multierror.Error
	if p == "" {
		result = multierror.Append(result, fmt.Errorf("empty pollutant name"))
	}
	if len(bps) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: no ranges", p))
	}

	for i, bp := range bps {
		if bp.IndexLow >= bp.IndexHigh {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: index_low %d >= index_high %d", p, i, bp.IndexLow, bp.IndexHigh))
		}
		if bp.ConcLow >= bp.ConcHigh {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: conc_low %g >= conc_high %g", p, i, bp.ConcLow, bp.ConcHigh))
		}
		if bp.IndexLow < 0 || bp.IndexHigh > MaxIndex {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: index range %d-%d outside 0-%d", p, i, bp.IndexLow, bp.IndexHigh, MaxIndex))
		}
		if bp.ConcLow < 0 {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: negative conc_low %g", p, i, bp.ConcLow))
		}
		if i == 0 {
			continue
		}

		prev := bps[i-1]
		if bp.ConcLow < prev.ConcHigh {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: conc_low %g overlaps previous conc_high %g", p, i, bp.ConcLow, prev.ConcHigh))
		}
		if bp.IndexLow != prev.IndexHigh && bp.IndexLow != prev.IndexHigh+1 {
			result = multierror.Append(result, fmt.Errorf("%s[%d]: index_low %d does not follow previous index_high %d", p, i, bp.IndexLow, prev.IndexHigh))
		}
	}
	return result.ErrorOrNil()
}
