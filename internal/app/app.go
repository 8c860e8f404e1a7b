// Package app assembles the air quality core shared by the API and worker
// processes.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
	"github.com/hanoiair/hanoiair/internal/airquality/guard"
	"github.com/hanoiair/hanoiair/internal/airquality/openmeteo"
	"github.com/hanoiair/hanoiair/internal/airquality/postgres"
	"github.com/hanoiair/hanoiair/internal/airquality/rediscache"
	"github.com/hanoiair/hanoiair/internal/airquality/warehouse"
	"github.com/hanoiair/hanoiair/internal/config"
	"github.com/hanoiair/hanoiair/internal/database"
	"github.com/hanoiair/hanoiair/internal/provider/resilience"
	"github.com/hanoiair/hanoiair/internal/telemetry"
)

const meterName = "github.com/hanoiair/hanoiair/internal/airquality"

// Core is the wired air quality service and the resources behind it.
type Core struct {
	Service  *airquality.Service
	Registry *resilience.Registry
	Backend  string
	// Cache is the Redis layer under the service, nil when Redis is disabled.
	Cache airquality.CacheInvalidator

	closers []func() error
}

// NewLogger creates the process logger.
func NewLogger(cfg config.AppConfig, service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("env", cfg.Env).
		Logger()
}

// NewCore builds the gateway stack selected by cfg and the service on top of
// it. Call Close when done.
func NewCore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	core := &Core{
		Registry: resilience.NewRegistry(),
		Backend:  cfg.Gateway.Backend,
	}

	metrics, err := telemetry.NewGatewayMetrics(telemetry.Meter(meterName), cfg.Gateway.Backend)
	if err != nil {
		return nil, fmt.Errorf("gateway metrics: %w", err)
	}

	gateway, err := core.newGateway(ctx, cfg, logger)
	if err != nil {
		_ = core.Close()
		return nil, err
	}

	// Service -> cache -> breaker -> backend: cached answers survive an open breaker.
	gateway = guard.Wrap(gateway, guard.Config{
		Name:        "gateway." + cfg.Gateway.Backend,
		Failures:    uint32(cfg.Gateway.BreakerFailures), //nolint:gosec // validated positive
		OpenTimeout: cfg.Gateway.BreakerTimeout,
		Registry:    core.Registry,
		Logger:      logger,
	})
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		core.closers = append(core.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, cache will be bypassed until it recovers")
		}
		cancel()

		cache := rediscache.Wrap(gateway, client, rediscache.Config{
			TTL:      cfg.Redis.TTL,
			Recorder: metrics,
			Logger:   logger,
		})
		core.Cache = cache
		gateway = cache
	}

	var table *airquality.BreakpointTable
	if cfg.Core.BreakpointFile != "" {
		table, err = airquality.LoadBreakpointFile(cfg.Core.BreakpointFile)
		if err != nil {
			_ = core.Close()
			return nil, fmt.Errorf("breakpoints: %w", err)
		}
	}

	interp := airquality.NewInterpolator(table)
	core.Service, err = airquality.NewService(airquality.ServiceConfig{
		Gateway:      gateway,
		Logger:       logger,
		Interpolator: interp,
		Synthesizer: airquality.NewSynthesizer(airquality.SynthesizerConfig{
			Seed:         cfg.Core.SynthesizerSeed,
			Interpolator: interp,
		}),
		Pollutant:       airquality.Pollutant(cfg.Core.IndexPollutant),
		Timeout:         cfg.Core.GatewayTimeout,
		Lookback:        cfg.Core.Lookback,
		CatalogTTL:      cfg.Core.CatalogTTL,
		StaleIfErrorTTL: cfg.Core.StaleIfErrorTTL,
		CatalogRetry:    cfg.Core.CatalogRetry,
		Recorder:        metrics,
	})
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("air quality service: %w", err)
	}

	logger.Info().
		Str("gateway", cfg.Gateway.Backend).
		Bool("redis", cfg.Redis.Enabled).
		Str("pollutant", cfg.Core.IndexPollutant).
		Msg("air quality core initialized")
	return core, nil
}

func (c *Core) newGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (airquality.Gateway, error) {
	switch cfg.Gateway.Backend {
	case config.GatewayBigQuery:
		g, err := warehouse.New(ctx, warehouse.Config{
			ProjectID: cfg.BigQuery.ProjectID,
			Dataset:   cfg.BigQuery.Dataset,
			Location:  cfg.BigQuery.Location,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, g.Close)
		return g, nil

	case config.GatewayPostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		db := database.OpenDB(pool)
		c.closers = append(c.closers, func() error {
			pool.Close()
			return nil
		}, db.Close)
		logger.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")
		return postgres.NewGateway(db, "", logger), nil

	case config.GatewayOpenMeteo:
		return openmeteo.NewClient(openmeteo.ClientConfig{
			AirQualityURL: cfg.OpenMeteo.AirQualityURL,
			ForecastURL:   cfg.OpenMeteo.ForecastURL,
			Registry:      c.Registry,
			Timeout:       cfg.OpenMeteo.Timeout,
			PastDays:      cfg.OpenMeteo.PastDays,
			Logger:        logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown gateway backend %q", cfg.Gateway.Backend)
	}
}

// Close releases gateway resources in reverse order of acquisition.
func (c *Core) Close() error {
	var result *multierror.Error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result.ErrorOrNil()
}
