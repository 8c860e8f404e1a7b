// Package postgres reads measurements from a PostgreSQL replica of the
// warehouse star schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

// Gateway implements airquality.Gateway on database/sql. Use
// database.OpenDB to obtain a *sql.DB backed by a pgx pool.
type Gateway struct {
	db       *sql.DB
	timeZone string
	logger   zerolog.Logger
}

var _ airquality.Gateway = (*Gateway)(nil)

// NewGateway creates a Postgres gateway. timeZone buckets daily aggregates.
func NewGateway(db *sql.DB, timeZone string, logger zerolog.Logger) *Gateway {
	if timeZone == "" {
		timeZone = "Asia/Ho_Chi_Minh"
	}
	return &Gateway{db: db, timeZone: timeZone, logger: logger}
}

// FetchReadings returns every reading matching filter inside window. Duplicate
// rows for one location and time are ranked by fact_key, the ingestion order.
func (g *Gateway) FetchReadings(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.Reading, error) {
	where, args := conditions(filter, window, nil)
	query := `
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
			f.aqi_total
		FROM fact_weather_air_quality AS f
		JOIN dim_time AS t ON f.time_key = t.time_key
		JOIN dim_location AS l ON f.location_key = l.location_key
		WHERE ` + where + `
		ORDER BY f.location_key, t.time`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, airquality.ClassifyGatewayError("fetch readings", err)
	}
	defer rows.Close()

	defaults := airquality.DefaultWeather()
	var readings []airquality.Reading
	for rows.Next() {
		var (
			r                                       airquality.Reading
			pm25, pm10, temp, hum, wind, dir, press sql.NullFloat64
			aqi                                     sql.NullFloat64
		)
		if err := rows.Scan(&r.LocationKey, &r.Timestamp, &r.Seq,
			&pm25, &pm10, &temp, &hum, &wind, &dir, &press, &aqi); err != nil {
			return nil, airquality.ClassifyGatewayError("scan reading", err)
		}

		r.Timestamp = r.Timestamp.UTC()
		r.PM25 = nullable(pm25)
		r.PM10 = nullable(pm10)
		r.Temperature = nullable(temp)
		r.Humidity = nullable(hum)
		r.WindSpeed = nullable(wind)
		r.WindDirection = nullable(dir)
		r.Pressure = nullable(press)
		r.AQITotal = nullable(aqi)
		readings = append(readings, airquality.NormalizeReading(r, defaults))
	}
	if err := rows.Err(); err != nil {
		return nil, airquality.ClassifyGatewayError("fetch readings", err)
	}

	g.logger.Debug().
		Str("filter", filter.String()).
		Int("rows", len(readings)).
		Msg("fetched readings")
	return readings, nil
}

// FetchDailyAggregates returns the daily average of the stored index.
func (g *Gateway) FetchDailyAggregates(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.TrendPoint, error) {
	where, args := conditions(filter, window, []any{g.timeZone})
	query := `
		SELECT
			date_trunc('day', t.time AT TIME ZONE $1) AS day,
			ROUND(AVG(f.aqi_total)::numeric, 2)::float8 AS avg_index,
			COUNT(*) AS sample_count
		FROM fact_weather_air_quality AS f
		JOIN dim_time AS t ON f.time_key = t.time_key
		JOIN dim_location AS l ON f.location_key = l.location_key
		WHERE ` + where + `
			AND f.aqi_total IS NOT NULL
		GROUP BY day
		ORDER BY day ASC`

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, airquality.ClassifyGatewayError("fetch daily aggregates", err)
	}
	defer rows.Close()

	var points []airquality.TrendPoint
	for rows.Next() {
		var (
			day   time.Time
			avg   sql.NullFloat64
			count int
		)
		if err := rows.Scan(&day, &avg, &count); err != nil {
			return nil, airquality.ClassifyGatewayError("scan daily aggregate", err)
		}
		if !avg.Valid {
			continue
		}
		points = append(points, airquality.TrendPoint{
			Date:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			AvgIndex:    avg.Float64,
			SampleCount: count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, airquality.ClassifyGatewayError("fetch daily aggregates", err)
	}

	return airquality.NormalizeTrendPoints(points), nil
}

// FetchLocationCatalog returns every location with coordinates.
func (g *Gateway) FetchLocationCatalog(ctx context.Context) ([]airquality.Location, error) {
	query := `
		SELECT location_key, location_name, latitude, longitude
		FROM dim_location
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY location_key
	`

	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, airquality.ClassifyGatewayError("fetch location catalog", err)
	}
	defer rows.Close()

	var locations []airquality.Location
	for rows.Next() {
		var (
			loc  airquality.Location
			name sql.NullString
		)
		if err := rows.Scan(&loc.Key, &name, &loc.Latitude, &loc.Longitude); err != nil {
			return nil, airquality.ClassifyGatewayError("scan location", err)
		}
		loc.Name = name.String
		if loc.Name == "" {
			loc.Name = fmt.Sprintf("Location %d", loc.Key)
		}
		loc.Code = fmt.Sprintf("LOC_%03d", loc.Key)
		loc.District = loc.Name
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, airquality.ClassifyGatewayError("fetch location catalog", err)
	}
	return locations, nil
}

// conditions builds a WHERE clause with positional placeholders following any
// leading args.
func conditions(filter airquality.LocationFilter, window airquality.Window, leading []any) (string, []any) {
	args := append([]any(nil), leading...)
	clauses := []string{"TRUE"}

	add := func(format string, values ...any) {
		placeholders := make([]any, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf(format, placeholders...))
	}

	if !window.Since.IsZero() {
		add("t.time >= %s", window.Since.UTC())
	}
	if !window.Until.IsZero() {
		add("t.time < %s", window.Until.UTC())
	}

	switch filter.Kind {
	case airquality.FilterKey:
		add("f.location_key = %s", filter.Key)
	case airquality.FilterProximity:
		add("ABS(l.latitude - %s) < %s AND ABS(l.longitude - %s) < %[2]s",
			filter.Latitude, airquality.ProximityTolerance, filter.Longitude)
	}
	return strings.Join(clauses, " AND "), args
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
