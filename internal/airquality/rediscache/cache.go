// Package rediscache is a read-through Redis cache in front of an
// airquality.Gateway. It caches the location catalog and daily aggregates;
// readings always go to the store. Redis failures are logged and bypassed.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hanoiair/hanoiair/internal/airquality"
)

const (
	opCatalog = "catalog"
	opDaily   = "daily"
)

// Recorder receives cache hit/miss events.
type Recorder interface {
	RecordCacheHit(ctx context.Context, op string)
	RecordCacheMiss(ctx context.Context, op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit(context.Context, string)  {}
func (nopRecorder) RecordCacheMiss(context.Context, string) {}

// Config configures the cache.
type Config struct {
	// Prefix namespaces every key (default: "hanoiair").
	Prefix string

	// TTL applies to every entry (default: 5m).
	TTL time.Duration

	Recorder Recorder
	Logger   zerolog.Logger
}

// Gateway caches another gateway in Redis.
type Gateway struct {
	next     airquality.Gateway
	redis    *redis.Client
	prefix   string
	ttl      time.Duration
	recorder Recorder
	logger   zerolog.Logger
}

var (
	_ airquality.Gateway          = (*Gateway)(nil)
	_ airquality.CacheInvalidator = (*Gateway)(nil)
)

// Wrap caches next in client.
func Wrap(next airquality.Gateway, client *redis.Client, cfg Config) *Gateway {
	if cfg.Prefix == "" {
		cfg.Prefix = "hanoiair"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	return &Gateway{
		next:     next,
		redis:    client,
		prefix:   cfg.Prefix,
		ttl:      cfg.TTL,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}
}

// FetchReadings is never cached.
func (g *Gateway) FetchReadings(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.Reading, error) {
	return g.next.FetchReadings(ctx, filter, window)
}

// FetchDailyAggregates serves cached aggregates for the same filter and
// hour-aligned window.
func (g *Gateway) FetchDailyAggregates(ctx context.Context, filter airquality.LocationFilter, window airquality.Window) ([]airquality.TrendPoint, error) {
	return readThrough(ctx, g, opDaily, g.DailyKey(filter, window), func(ctx context.Context) ([]airquality.TrendPoint, error) {
		return g.next.FetchDailyAggregates(ctx, filter, window)
	})
}

// FetchLocationCatalog serves the cached catalog.
func (g *Gateway) FetchLocationCatalog(ctx context.Context) ([]airquality.Location, error) {
	return readThrough(ctx, g, opCatalog, g.CatalogKey(), g.next.FetchLocationCatalog)
}

// CatalogKey returns the catalog key.
func (g *Gateway) CatalogKey() string {
	return g.prefix + ":catalog"
}

// DailyKey returns the key for a daily aggregate query.
func (g *Gateway) DailyKey(filter airquality.LocationFilter, window airquality.Window) string {
	return fmt.Sprintf("%s:daily:%s:%s:%s", g.prefix, filter.String(), hourKey(window.Since), hourKey(window.Until))
}

// scanBatch is the SCAN count hint and the delete batch size.
const scanBatch = 100

// Invalidate removes every cached catalog and aggregate entry.
func (g *Gateway) Invalidate(ctx context.Context) error {
	iter := g.redis.Scan(ctx, 0, g.prefix+":*", scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := g.redis.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete cache keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(batch) > 0 {
		if err := g.redis.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete cache keys: %w", err)
		}
	}
	return nil
}

// readThrough returns the cached value for key, or calls fetch and caches a
// non-empty result. Store errors are never cached.
func readThrough[T any](ctx context.Context, g *Gateway, op, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	data, err := g.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []T
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			g.recorder.RecordCacheHit(ctx, op)
			return cached, nil
		}
		g.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		g.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	g.recorder.RecordCacheMiss(ctx, op)

	value, err := fetch(ctx)
	if err != nil || len(value) == 0 {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return value, nil
	}
	if err := g.redis.Set(ctx, key, encoded, g.ttl).Err(); err != nil {
		g.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return value, nil
}

func hourKey(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.UTC().Truncate(time.Hour).Format("2006010215")
}
