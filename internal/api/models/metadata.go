package models

// Location represents a monitoring location.
type Location struct {
	LocationKey int64  `json:"locationKey"`
	Code        string `json:"code,omitempty"`
	Name        string `json:"name"`
	District    string `json:"district,omitempty"`
	Point       Point  `json:"point"`
}

// PagedLocations represents the location catalog.
type PagedLocations struct {
	Items []Location        `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}

// Enums represents the enum values used by the API.
type Enums struct {
	Categories    []string     `json:"categories"`
	Pollutants    []string     `json:"pollutants"`
	Directions    []string     `json:"directions"`
	DataQualities []string     `json:"dataQualities"`
	Provenances   []Provenance `json:"provenances"`
}
