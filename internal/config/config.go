// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/database"
)

// Gateway backends.
const (
	GatewayBigQuery  = "bigquery"
	GatewayPostgres  = "postgres"
	GatewayOpenMeteo = "openmeteo"
)

// Config is the complete process configuration.
type Config struct {
	App       AppConfig
	Core      CoreConfig
	Gateway   GatewayConfig
	BigQuery  BigQueryConfig
	Database  database.Config
	Redis     RedisConfig
	OpenMeteo OpenMeteoConfig
	Telemetry TelemetryConfig
	Worker    WorkerConfig
	PubSub    PubSubConfig
}

type AppConfig struct {
	Port     string
	Env      string
	LogLevel string

	// RequireTLS rejects requests a proxy reports as plain HTTP.
	RequireTLS bool
}

// CoreConfig tunes the air quality service.
type CoreConfig struct {
	GatewayTimeout   time.Duration
	Lookback         time.Duration
	CatalogTTL       time.Duration
	StaleIfErrorTTL  time.Duration
	CatalogRetry     time.Duration
	BreakpointFile   string
	SynthesizerSeed  *int64
	IndexPollutant   string
	DefaultTrendDays int
}

type GatewayConfig struct {
	Backend string

	// Breaker settings applied to the selected backend.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type BigQueryConfig struct {
	ProjectID string
	Dataset   string
	Location  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type OpenMeteoConfig struct {
	AirQualityURL string
	ForecastURL   string
	Timeout       time.Duration
	PastDays      int
}

type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	SampleRatio    float64
	ExportInterval time.Duration
}

type WorkerConfig struct {
	Port          string
	Concurrency   int
	Timeout       time.Duration
	SweepInterval time.Duration
}

type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	seed, err := getEnvAsOptionalInt64("SYNTH_SEED")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Port:     getEnv("APP_PORT", "8080"),
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),

			RequireTLS: getEnvAsBool("REQUIRE_TLS", false),
		},
		Core: CoreConfig{
			GatewayTimeout:   getEnvAsDuration("GATEWAY_TIMEOUT", 5*time.Second),
			Lookback:         getEnvAsDuration("READING_LOOKBACK", 7*24*time.Hour),
			CatalogTTL:       getEnvAsDuration("CATALOG_TTL", 10*time.Minute),
			StaleIfErrorTTL:  getEnvAsDuration("CATALOG_STALE_TTL", time.Hour),
			CatalogRetry:     getEnvAsDuration("CATALOG_RETRY", 30*time.Second),
			BreakpointFile:   getEnv("BREAKPOINT_FILE", ""),
			SynthesizerSeed:  seed,
			IndexPollutant:   getEnv("INDEX_POLLUTANT", "pm2_5"),
			DefaultTrendDays: getEnvAsInt("DEFAULT_TREND_DAYS", 7),
		},
		Gateway: GatewayConfig{
			Backend:         strings.ToLower(getEnv("GATEWAY", GatewayOpenMeteo)),
			BreakerFailures: getEnvAsInt("GATEWAY_BREAKER_FAILURES", 5),
			BreakerTimeout:  getEnvAsDuration("GATEWAY_BREAKER_TIMEOUT", 30*time.Second),
		},
		BigQuery: BigQueryConfig{
			ProjectID: getEnv("BQ_PROJECT_ID", ""),
			Dataset:   getEnv("BQ_DATASET", "hanoi_air"),
			Location:  getEnv("BQ_LOCATION", "asia-southeast1"),
		},
		Database: database.Config{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "hanoiair"),
			Password:        getEnv("DB_PASSWORD", "localdev"),
			Database:        getEnv("DB_NAME", "hanoiair"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),

			ApplicationName:  getEnv("DB_APPLICATION_NAME", database.DefaultApplicationName),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 10*time.Second),
			ConnectTimeout:   getEnvAsDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_TTL", 5*time.Minute),
		},
		OpenMeteo: OpenMeteoConfig{
			AirQualityURL: getEnv("OPENMETEO_AIR_URL", "https://air-quality-api.open-meteo.com/v1/air-quality"),
			ForecastURL:   getEnv("OPENMETEO_FORECAST_URL", "https://api.open-meteo.com/v1/forecast"),
			Timeout:       getEnvAsDuration("OPENMETEO_TIMEOUT", 10*time.Second),
			PastDays:      getEnvAsInt("OPENMETEO_PAST_DAYS", 7),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:    getEnvAsFloat("OTEL_SAMPLE_RATIO", 1),
			ExportInterval: getEnvAsDuration("OTEL_METRIC_INTERVAL", 15*time.Second),
		},
		Worker: WorkerConfig{
			Port:          getEnv("WORKER_PORT", "8081"),
			Concurrency:   getEnvAsInt("WORKER_CONCURRENCY", 4),
			Timeout:       getEnvAsDuration("WORKER_TIMEOUT", 10*time.Second),
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 15*time.Minute),
		},
		PubSub: PubSubConfig{
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", ""),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Gateway.Backend {
	case GatewayOpenMeteo, GatewayPostgres:
	case GatewayBigQuery:
		if c.BigQuery.ProjectID == "" {
			result = multierror.Append(result, fmt.Errorf("BQ_PROJECT_ID is required for the bigquery gateway"))
		}
		if c.BigQuery.Dataset == "" {
			result = multierror.Append(result, fmt.Errorf("BQ_DATASET is required for the bigquery gateway"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("GATEWAY %q must be one of %s, %s, %s",
			c.Gateway.Backend, GatewayBigQuery, GatewayPostgres, GatewayOpenMeteo))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.App.LogLevel)); err != nil {
		result = multierror.Append(result, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.App.LogLevel))
	}
	if c.Core.GatewayTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("GATEWAY_TIMEOUT must be positive"))
	}
	if c.Core.Lookback <= 0 {
		result = multierror.Append(result, fmt.Errorf("READING_LOOKBACK must be positive"))
	}
	if c.Core.DefaultTrendDays < 1 || c.Core.DefaultTrendDays > 90 {
		result = multierror.Append(result, fmt.Errorf("DEFAULT_TREND_DAYS must be between 1 and 90"))
	}
	if c.Gateway.BreakerFailures < 1 {
		result = multierror.Append(result, fmt.Errorf("GATEWAY_BREAKER_FAILURES must be at least 1"))
	}
	if c.Database.MaxOpenConns < 1 {
		result = multierror.Append(result, fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		result = multierror.Append(result, fmt.Errorf("DB_MAX_IDLE_CONNS must not exceed DB_MAX_OPEN_CONNS"))
	}
	if c.OpenMeteo.PastDays < 0 || c.OpenMeteo.PastDays > 92 {
		result = multierror.Append(result, fmt.Errorf("OPENMETEO_PAST_DAYS must be between 0 and 92"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		result = multierror.Append(result, fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1"))
	}
	if c.Worker.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Worker.SweepInterval < time.Minute {
		result = multierror.Append(result, fmt.Errorf("SWEEP_INTERVAL must be at least 1m"))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Subscription == "") {
		result = multierror.Append(result, fmt.Errorf("PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION must be set together"))
	}

	return result.ErrorOrNil()
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsOptionalInt64(key string) (*int64, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}
