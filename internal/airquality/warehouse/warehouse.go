// Package warehouse reads measurements from the BigQuery star schema
// (Fact_Weather_AirQuality, Dim_Time, Dim_Location).
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

// DefaultTimeZone is the zone used to bucket daily aggregates.
const DefaultTimeZone = "Asia/Ho_Chi_Minh"

// RowIterator yields query rows. *bigquery.RowIterator implements it.
type RowIterator interface {
	Next(dst interface{}) error
}

// QueryRunner executes a parameterized query.
type QueryRunner interface {
	Run(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error)
}

// Config holds configuration for the warehouse gateway.
type Config struct {
	ProjectID string
	Dataset   string

	// Location is the BigQuery job location (default: the dataset's).
	Location string

	// TimeZone buckets daily aggregates (default: Asia/Ho_Chi_Minh).
	TimeZone string

	Logger zerolog.Logger
}

// Gateway implements airquality.Gateway on BigQuery.
type Gateway struct {
	runner   QueryRunner
	tables   tables
	timeZone string
	logger   zerolog.Logger
	closer   func() error
}

var _ airquality.Gateway = (*Gateway)(nil)

type tables struct {
	fact     string
	time     string
	location string
}

// New connects to BigQuery.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Gateway, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	g := NewWithRunner(&clientRunner{client: client}, cfg)
	g.closer = client.Close
	return g, nil
}

// NewWithRunner creates a gateway on an existing runner.
func NewWithRunner(runner QueryRunner, cfg Config) *Gateway {
	tz := cfg.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	prefix := fmt.Sprintf("`%s.%s.", cfg.ProjectID, cfg.Dataset)
	return &Gateway{
		runner: runner,
		tables: tables{
			fact:     prefix + "Fact_Weather_AirQuality`",
			time:     prefix + "Dim_Time`",
			location: prefix + "Dim_Location`",
		},
		timeZone: tz,
		logger:   cfg.Logger,
	}
}

// Close releases the BigQuery client.
func (g *Gateway) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// ReadingRow is one fact row joined with its dimensions.
type ReadingRow struct {
	LocationKey   int64                `bigquery:"location_key"`
	Time          time.Time            `bigquery:"time"`
	Seq           int64                `bigquery:"seq"`
	PM25          bigquery.NullFloat64 `bigquery:"pm2_5"`
	PM10          bigquery.NullFloat64 `bigquery:"pm10"`
	Temperature   bigquery.NullFloat64 `bigquery:"temperature_2m"`
	Humidity      bigquery.NullFloat64 `bigquery:"relative_humidity_2m"`
	WindSpeed     bigquery.NullFloat64 `bigquery:"wind_speed_10m"`
	WindDirection bigquery.NullFloat64 `bigquery:"wind_direction_10m"`
	Pressure      bigquery.NullFloat64 `bigquery:"pressure_msl"`
	AQITotal      bigquery.NullFloat64 `bigquery:"aqi_total"`
}

// DailyRow is one daily aggregate.
type DailyRow struct {
	Day         time.Time            `bigquery:"day"`
	AvgIndex    bigquery.NullFloat64 `bigquery:"avg_index"`
	SampleCount int64                `bigquery:"sample_count"`
}

// LocationRow is one Dim_Location row.
type LocationRow struct {
	LocationKey int64                `bigquery:"location_key"`
	Name        bigquery.NullString  `bigquery:"location_name"`
	Latitude    bigquery.NullFloat64 `bigquery:"latitude"`
	Longitude   bigquery.NullFloat64 `bigquery:"longitude"`
}

// FetchReadings returns every reading matching filter inside window. Seq ranks
// duplicate rows for the same location and time by the fact surrogate key
// (fact_key), which follows ingestion order.
func (g *Gateway) FetchReadings(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.Reading, error) {
	where, params := g.conditions(filter, window)
	sql := fmt.Sprintf(`
SELECT
  f.location_key,
  t.time,
  ROW_NUMBER() OVER (PARTITION BY f.location_key, t.time ORDER BY f.fact_key) AS seq,
  f.pm2_5,
  f.pm10,
  f.temperature_2m,
  f.relative_humidity_2m,
  f.wind_speed_10m,
  f.wind_direction_10m,
  f.pressure_msl,
  f.AQI_TOTAL AS aqi_total
FROM %s AS f
JOIN %s AS t ON f.time_key = t.time_key
JOIN %s AS l ON f.location_key = l.location_key
WHERE %s
ORDER BY f.location_key, t.time`, g.tables.fact, g.tables.time, g.tables.location, where)

	var rows []ReadingRow
	if err := g.query(ctx, "fetch readings", sql, params, func(it RowIterator) error {
		var row ReadingRow
		if err := it.Next(&row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	}); err != nil {
		return nil, err
	}

	defaults := airquality.DefaultWeather()
	readings := make([]airquality.Reading, 0, len(rows))
	for _, row := range rows {
		readings = append(readings, airquality.NormalizeReading(airquality.Reading{
			LocationKey:   row.LocationKey,
			Timestamp:     row.Time.UTC(),
			Seq:           row.Seq,
			PM25:          nullable(row.PM25),
			PM10:          nullable(row.PM10),
			Temperature:   nullable(row.Temperature),
			Humidity:      nullable(row.Humidity),
			WindSpeed:     nullable(row.WindSpeed),
			WindDirection: nullable(row.WindDirection),
			Pressure:      nullable(row.Pressure),
			AQITotal:      nullable(row.AQITotal),
		}, defaults))
	}

	g.logger.Debug().
		Str("filter", filter.String()).
		Int("rows", len(readings)).
		Msg("fetched readings")
	return readings, nil
}

// FetchDailyAggregates returns the daily average of the stored index.
func (g *Gateway) FetchDailyAggregates(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.TrendPoint, error) {
	where, params := g.conditions(filter, window)
	params = append(params, bigquery.QueryParameter{Name: "tz", Value: g.timeZone})
	sql := fmt.Sprintf(`
SELECT
  TIMESTAMP(DATE(t.time, @tz)) AS day,
  ROUND(AVG(f.AQI_TOTAL), 2) AS avg_index,
  COUNT(*) AS sample_count
FROM %s AS f
JOIN %s AS t ON f.time_key = t.time_key
JOIN %s AS l ON f.location_key = l.location_key
WHERE %s
  AND f.AQI_TOTAL IS NOT NULL
GROUP BY day
ORDER BY day ASC`, g.tables.fact, g.tables.time, g.tables.location, where)

	var points []airquality.TrendPoint
	if err := g.query(ctx, "fetch daily aggregates", sql, params, func(it RowIterator) error {
		var row DailyRow
		if err := it.Next(&row); err != nil {
			return err
		}
		if !row.AvgIndex.Valid {
			return nil
		}
		points = append(points, airquality.TrendPoint{
			Date:        row.Day.UTC(),
			AvgIndex:    row.AvgIndex.Float64,
			SampleCount: int(row.SampleCount),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	return airquality.NormalizeTrendPoints(points), nil
}

// FetchLocationCatalog returns every Dim_Location row with coordinates.
func (g *Gateway) FetchLocationCatalog(ctx context.Context) ([]airquality.Location, error) {
	sql := fmt.Sprintf(`
SELECT location_key, location_name, latitude, longitude
FROM %s
WHERE latitude IS NOT NULL AND longitude IS NOT NULL
ORDER BY location_key`, g.tables.location)

	var locations []airquality.Location
	if err := g.query(ctx, "fetch location catalog", sql, nil, func(it RowIterator) error {
		var row LocationRow
		if err := it.Next(&row); err != nil {
			return err
		}
		name := row.Name.StringVal
		if !row.Name.Valid || name == "" {
			name = fmt.Sprintf("Location %d", row.LocationKey)
		}
		locations = append(locations, airquality.Location{
			Key:       row.LocationKey,
			Code:      fmt.Sprintf("LOC_%03d", row.LocationKey),
			Name:      name,
			District:  name,
			Latitude:  row.Latitude.Float64,
			Longitude: row.Longitude.Float64,
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return locations, nil
}

// conditions builds the WHERE clause shared by reading and aggregate queries.
func (g *Gateway) conditions(filter airquality.LocationFilter, window airquality.Window) (string, []bigquery.QueryParameter) {
	where := "TRUE"
	var params []bigquery.QueryParameter

	if !window.Since.IsZero() {
		where += " AND t.time >= @since"
		params = append(params, bigquery.QueryParameter{Name: "since", Value: window.Since.UTC()})
	}
	if !window.Until.IsZero() {
		where += " AND t.time < @until"
		params = append(params, bigquery.QueryParameter{Name: "until", Value: window.Until.UTC()})
	}

	switch filter.Kind {
	case airquality.FilterKey:
		where += " AND f.location_key = @location_key"
		params = append(params, bigquery.QueryParameter{Name: "location_key", Value: filter.Key})
	case airquality.FilterProximity:
		where += " AND ABS(l.latitude - @lat) < @tolerance AND ABS(l.longitude - @lng) < @tolerance"
		params = append(params,
			bigquery.QueryParameter{Name: "lat", Value: filter.Latitude},
			bigquery.QueryParameter{Name: "lng", Value: filter.Longitude},
			bigquery.QueryParameter{Name: "tolerance", Value: airquality.ProximityTolerance},
		)
	}
	return where, params
}

// query runs sql and calls scan until the iterator is exhausted. Errors are
// classified for the service.
func (g *Gateway) query(ctx context.Context, op, sql string, params []bigquery.QueryParameter, scan func(RowIterator) error) error {
	it, err := g.runner.Run(ctx, sql, params)
	if err != nil {
		g.logger.Warn().Err(err).Str("operation", op).Msg("bigquery query failed")
		return airquality.ClassifyGatewayError(op, err)
	}

	for {
		err := scan(it)
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			g.logger.Warn().Err(err).Str("operation", op).Msg("bigquery read failed")
			return airquality.ClassifyGatewayError(op, err)
		}
	}
}

func nullable(v bigquery.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

type clientRunner struct {
	client *bigquery.Client
}

func (r *clientRunner) Run(ctx context.Context, sql string, params []bigquery.QueryParameter) (RowIterator, error) {
	q := r.client.Query(sql)
	q.Parameters = params
	return q.Read(ctx)
}
