package models

// Reading is the measurement an index was derived from.
type Reading struct {
	PM25          *float64 `json:"pm25"`
	PM10          *float64 `json:"pm10"`
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	WindSpeed     *float64 `json:"windSpeed"`
	WindDirection *float64 `json:"windDirection"`
	Pressure      *float64 `json:"pressure"`
}

// AQI is an index value for a location at a point in time.
type AQI struct {
	Location   Location   `json:"location"`
	Timestamp  Timestamp  `json:"timestamp"`
	AQI        *int       `json:"aqi"`
	Category   string     `json:"category,omitempty"`
	Pollutant  string     `json:"pollutant"`
	Reading    Reading    `json:"reading"`
	Provenance Provenance `json:"provenance"`
}

// AQIList is the latest index for many locations.
type AQIList struct {
	Items      []AQI      `json:"items"`
	Count      int        `json:"count"`
	Provenance Provenance `json:"provenance"`
}

// Hourly is an hourly index series.
type Hourly struct {
	Location   Location   `json:"location"`
	Hours      int        `json:"hours"`
	Points     []AQI      `json:"points"`
	Provenance Provenance `json:"provenance"`
}

// TrendPoint is one daily average.
type TrendPoint struct {
	Date        Date    `json:"date"`
	AvgAQI      float64 `json:"avgAqi"`
	SampleCount int     `json:"sampleCount"`
}

// Trend is a daily series with derived statistics.
type Trend struct {
	Location      Location     `json:"location"`
	Days          int          `json:"days"`
	Points        []TrendPoint `json:"points"`
	Direction     string       `json:"direction"`
	PercentChange float64      `json:"percentChange"`
	AvgAQI        float64      `json:"avgAqi"`
	MaxAQI        float64      `json:"maxAqi"`
	MinAQI        float64      `json:"minAqi"`
	TotalSamples  int          `json:"totalSamples"`
	Provenance    Provenance   `json:"provenance"`
}

// Summary is the 30-day history summary of a location.
type Summary struct {
	Location     Location   `json:"location"`
	Days         int        `json:"days"`
	TotalRecords int        `json:"totalRecords"`
	DaysWithData int        `json:"daysWithData"`
	AvgAQI       float64    `json:"avgAqi"`
	MinAQI       float64    `json:"minAqi"`
	MaxAQI       float64    `json:"maxAqi"`
	DataQuality  string     `json:"dataQuality"`
	Provenance   Provenance `json:"provenance"`
}

// IndexComputation is the result of converting a concentration.
type IndexComputation struct {
	Pollutant     string   `json:"pollutant"`
	Concentration *float64 `json:"concentration"`
	AQI           *int     `json:"aqi"`
	Category      string   `json:"category,omitempty"`
}
