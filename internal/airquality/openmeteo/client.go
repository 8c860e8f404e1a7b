// Package openmeteo provides an airquality.Gateway backed by the Open-Meteo
// air-quality and forecast APIs.
package openmeteo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
)

const (
	// DefaultAirQualityURL is the Open-Meteo air-quality endpoint.
	DefaultAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"

	// DefaultForecastURL is the Open-Meteo weather forecast endpoint.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	// ProviderName identifies this provider.
	ProviderName = "openmeteo"

	// maxPastDays is the largest past_days value the API accepts.
	maxPastDays = 92

	timeLayout = "2006-01-02T15:04"
)

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	// AirQualityURL defaults to DefaultAirQualityURL.
	AirQualityURL string

	// ForecastURL defaults to DefaultForecastURL.
	ForecastURL string

	// HTTPClient is the HTTP client to use. If nil, a resilient client is
	// created and registered with Registry.
	HTTPClient HTTPDoer

	// Registry receives health updates from the default client.
	Registry *resilience.Registry

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// PastDays is requested when a window has no lower bound (default: 7).
	PastDays int

	// Locations is the served catalog (default: airquality.DefaultLocations).
	Locations []airquality.Location

	// TimeZone buckets daily aggregates (default: Asia/Ho_Chi_Minh).
	TimeZone *time.Location

	Logger zerolog.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an Open-Meteo gateway. It is safe for concurrent use.
type Client struct {
	airQualityURL string
	forecastURL   string
	httpClient    HTTPDoer
	pastDays      int
	catalog       *airquality.Catalog
	tz            *time.Location
	logger        zerolog.Logger
	now           func() time.Time
}

var _ airquality.Gateway = (*Client)(nil)

// NewClient creates a new Open-Meteo client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.AirQualityURL == "" {
		cfg.AirQualityURL = DefaultAirQualityURL
	}
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = DefaultForecastURL
	}
	if cfg.PastDays <= 0 {
		cfg.PastDays = 7
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = airquality.DefaultLocations()
	}
	if cfg.TimeZone == nil {
		tz, err := time.LoadLocation("Asia/Ho_Chi_Minh")
		if err != nil {
			tz = time.FixedZone("ICT", 7*60*60)
		}
		cfg.TimeZone = tz
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Registry:        cfg.Registry,
			UserAgent:       "hanoiair/1.0",
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		airQualityURL: strings.TrimSuffix(cfg.AirQualityURL, "/"),
		forecastURL:   strings.TrimSuffix(cfg.ForecastURL, "/"),
		httpClient:    httpClient,
		pastDays:      min(cfg.PastDays, maxPastDays),
		catalog:       airquality.NewCatalog(cfg.Locations),
		tz:            cfg.TimeZone,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// API response types.

type hourlyAirQuality struct {
	Time  []string   `json:"time"`
	PM25  []*float64 `json:"pm2_5"`
	PM10  []*float64 `json:"pm10"`
	USAQI []*float64 `json:"us_aqi"`
}

type airQualityResponse struct {
	Latitude  float64          `json:"latitude"`
	Longitude float64          `json:"longitude"`
	Hourly    hourlyAirQuality `json:"hourly"`
}

type hourlyWeather struct {
	Time          []string   `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	WindDirection []*float64 `json:"wind_direction_10m"`
	Pressure      []*float64 `json:"pressure_msl"`
}

type weatherResponse struct {
	Hourly hourlyWeather `json:"hourly"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// FetchReadings returns hourly readings for the catalog locations matching
// filter. A proximity filter with no catalog match is queried at the given
// coordinate under location key 0.
func (c *Client) FetchReadings(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.Reading, error) {
	locations := c.targets(filter)
	if len(locations) == 0 {
		return nil, nil
	}

	pastDays := c.pastDaysFor(window)

	var aq []airQualityResponse
	if err := c.fetch(ctx, c.airQualityURL, locations, url.Values{
		"hourly":    {"pm2_5,pm10,us_aqi"},
		"timezone":  {"GMT"},
		"past_days": {strconv.Itoa(pastDays)},
	}, &aq); err != nil {
		return nil, airquality.ClassifyGatewayError("fetch air quality", err)
	}
	if len(aq) != len(locations) {
		return nil, airquality.ClassifyGatewayError("fetch air quality",
			fmt.Errorf("expected %d locations, got %d", len(locations), len(aq)))
	}

	// Weather is optional; readings fall back to the documented defaults.
	var weather []weatherResponse
	if err := c.fetch(ctx, c.forecastURL, locations, url.Values{
		"hourly":          {"temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m,pressure_msl"},
		"wind_speed_unit": {"ms"},
		"timezone":        {"GMT"},
		"past_days":       {strconv.Itoa(pastDays)},
	}, &weather); err != nil || len(weather) != len(locations) {
		c.logger.Warn().Err(err).Msg("weather unavailable, using defaults")
		weather = nil
	}

	now := c.now()
	defaults := airquality.DefaultWeather()
	var readings []airquality.Reading
	for i, loc := range locations {
		var w *hourlyWeather
		if weather != nil {
			w = &weather[i].Hourly
		}
		for _, r := range toReadings(loc.Key, aq[i].Hourly, w) {
			// Forecast hours are not measurements.
			if r.Timestamp.After(now) || !window.Contains(r.Timestamp) {
				continue
			}
			readings = append(readings, airquality.NormalizeReading(r, defaults))
		}
	}

	c.logger.Debug().
		Str("filter", filter.String()).
		Int("locations", len(locations)).
		Int("readings", len(readings)).
		Msg("fetched readings")
	return readings, nil
}

// FetchDailyAggregates averages the hourly US AQI per local calendar day over
// every location matching filter.
func (c *Client) FetchDailyAggregates(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.TrendPoint, error) {
	readings, err := c.FetchReadings(ctx, filter, window)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[time.Time]*bucket)
	for _, r := range readings {
		if r.AQITotal == nil {
			continue
		}
		local := r.Timestamp.In(c.tz)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.sum += *r.AQITotal
		b.count++
	}

	points := make([]airquality.TrendPoint, 0, len(buckets))
	for day, b := range buckets {
		points = append(points, airquality.TrendPoint{
			Date:        day,
			AvgIndex:    math.Round(b.sum/float64(b.count)*100) / 100,
			SampleCount: b.count,
		})
	}
	return airquality.NormalizeTrendPoints(points), nil
}

// FetchLocationCatalog returns the configured catalog.
func (c *Client) FetchLocationCatalog(_ context.Context) ([]airquality.Location, error) {
	return c.catalog.Locations(), nil
}

func (c *Client) targets(filter airquality.LocationFilter) []airquality.Location {
	var out []airquality.Location
	for _, loc := range c.catalog.Locations() {
		if filter.Matches(loc) {
			out = append(out, loc)
		}
	}
	if len(out) == 0 && filter.Kind == airquality.FilterProximity {
		out = append(out, airquality.AdHocLocation(0, filter.Latitude, filter.Longitude))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Client) pastDaysFor(window airquality.Window) int {
	if window.Since.IsZero() {
		return c.pastDays
	}
	days := int(math.Ceil(c.now().Sub(window.Since).Hours()/24)) + 1
	return max(1, min(days, maxPastDays))
}

// fetch requests all locations at once. The API answers a single object for one
// coordinate and an array for several; dst always receives a slice.
func (c *Client) fetch(ctx context.Context, endpoint string, locations []airquality.Location, params url.Values, dst any) error {
	lats := make([]string, len(locations))
	lons := make([]string, len(locations))
	for i, loc := range locations {
		lats[i] = strconv.FormatFloat(loc.Latitude, 'f', 4, 64)
		lons[i] = strconv.FormatFloat(loc.Longitude, 'f', 4, 64)
	}
	params.Set("latitude", strings.Join(lats, ","))
	params.Set("longitude", strings.Join(lons, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Reason)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw := bytes.TrimSpace(body)
	if len(raw) > 0 && raw[0] != '[' {
		raw = append(append([]byte{'['}, raw...), ']')
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// toReadings zips the hourly arrays into readings. Weather values are matched by
// timestamp.
func toReadings(key int64, aq hourlyAirQuality, w *hourlyWeather) []airquality.Reading {
	weatherAt := make(map[string]int)
	if w != nil {
		for i, ts := range w.Time {
			weatherAt[ts] = i
		}
	}

	readings := make([]airquality.Reading, 0, len(aq.Time))
	for i, ts := range aq.Time {
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			continue
		}
		r := airquality.Reading{
			LocationKey: key,
			Timestamp:   t.UTC(),
			PM25:        at(aq.PM25, i),
			PM10:        at(aq.PM10, i),
			AQITotal:    at(aq.USAQI, i),
			Seq:         1,
		}
		if j, ok := weatherAt[ts]; ok {
			r.Temperature = at(w.Temperature, j)
			r.Humidity = at(w.Humidity, j)
			r.WindSpeed = at(w.WindSpeed, j)
			r.WindDirection = at(w.WindDirection, j)
			r.Pressure = at(w.Pressure, j)
		}
		readings = append(readings, r)
	}
	return readings
}

func at(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
