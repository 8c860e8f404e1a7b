package airquality

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// breakpointFile is the on-disk layout:
//
//	pollutants:
//	  no2:
//	    - {index_low: 0, index_high: 50, conc_low: 0, conc_high: 53}
//	    - ...
type breakpointFile struct {
	Pollutants map[string][]Breakpoint `yaml:"pollutants"`
}

// ParseBreakpoints decodes YAML ranges and merges them over DefaultBreakpoints.
// A pollutant present in the document replaces the default ranges for it.
func ParseBreakpoints(data []byte) (*BreakpointTable, error) {
	var doc breakpointFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", ErrMalformedBreakpoints, err)
	}

	ranges := DefaultBreakpoints()
	for name, bps := range doc.Pollutants {
		ranges[Pollutant(name)] = bps
	}
	return NewBreakpointTable(ranges)
}

// LoadBreakpointFile reads path and parses it with ParseBreakpoints.
// An empty path yields the default table.
func LoadBreakpointFile(path string) (*BreakpointTable, error) {
	if path == "" {
		return DefaultBreakpointTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read breakpoint file: %w", err)
	}
	return ParseBreakpoints(data)
}
