// Package database provides PostgreSQL connection management for the
// measurement warehouse replica.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// DefaultApplicationName is reported in pg_stat_activity.
const DefaultApplicationName = "hanoiair"

// Config holds database connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ApplicationName defaults to DefaultApplicationName.
	ApplicationName string

	// StatementTimeout caps server-side query time. Zero leaves the server
	// default.
	StatementTimeout time.Duration

	// ConnectTimeout bounds the startup ping retries. Zero pings once.
	ConnectTimeout time.Duration
}

// ConnectionString returns the PostgreSQL connection string. Sessions are
// read-only; the air quality gateway never writes.
func (c Config) ConnectionString() string {
	appName := c.ApplicationName
	if appName == "" {
		appName = DefaultApplicationName
	}

	query := url.Values{
		"sslmode":                       {c.SSLMode},
		"application_name":              {appName},
		"default_transaction_read_only": {"on"},
	}
	if c.StatementTimeout > 0 {
		query.Set("statement_timeout", strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Connect creates a connection pool and waits for the database to answer a
// ping, retrying with exponential backoff for up to cfg.ConnectTimeout.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // MaxOpenConns is bounded by config validation
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // MaxIdleConns is bounded by config validation
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := backoff.Retry(func() error { return pool.Ping(ctx) }, pingBackoff(ctx, cfg.ConnectTimeout)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func pingBackoff(ctx context.Context, limit time.Duration) backoff.BackOff {
	if limit <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = limit
	return backoff.WithContext(b, ctx)
}

// OpenDB exposes a pool through database/sql. Closing the returned DB does not
// close the pool.
func OpenDB(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}
