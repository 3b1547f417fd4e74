// Package postgres builds the shared pgx connection pool and its query
// instrumentation.
package postgres

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds pool and query-logging settings.
type Config struct {
	MaxConns  int
	SlowQuery time.Duration
	LogArgs   bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.MaxConns, "db-max-conns", 10, "maximum open database connections (1..200)")
	fs.DurationVar(&c.SlowQuery, "db-slow-query", 0, "log only queries slower than this (0 = log every query)")
	fs.BoolVar(&c.LogArgs, "db-log-args", false, "include query arguments in query logs")
}

// Validate checks all configuration fields for correctness.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConns < 1 || c.MaxConns > 200 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..200)", c.MaxConns))
	}
	if c.SlowQuery < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY %s (must be >= 0)", c.SlowQuery))
	}
	return errors.Join(errs...)
}

// NewPool parses databaseURL, installs the otelpgx and logging tracers, and
// pings the server before returning. observer may be nil.
func NewPool(ctx context.Context, databaseURL string, cfg Config, observer QueryObserver) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // bounded by Validate
	}
	pcfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), observer, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewQueryMetrics registers a per-query duration histogram and returns the
// observer that feeds it.
func NewQueryMetrics(reg prometheus.Registerer) QueryObserver {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dogtor_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	reg.MustRegister(hist)

	return QueryObserverFunc(func(_ context.Context, method, route, outcome string, dur time.Duration) {
		hist.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
	})
}
