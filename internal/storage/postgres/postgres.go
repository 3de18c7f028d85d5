package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing defaults. A measurement tick can claim a full scheduler
// batch concurrently, so the ceiling sits above the worker count.
const (
	defaultMaxConns    = 16
	defaultMinConns    = 2
	defaultConnLife    = 30 * time.Minute
	connectPingTimeout = 5 * time.Second
)

// Pool is the shared Postgres handle all stores are built on.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption adjusts connection sizing before the pool connects.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps concurrent connections.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// WithMinConns keeps n connections warm between ticks.
func WithMinConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MinConns = n
		}
	}
}

// NewPool connects to Postgres and verifies the connection with a
// bounded ping.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = defaultMaxConns
	cfg.MinConns = defaultMinConns
	cfg.MaxConnLifetime = defaultConnLife
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// pgCode extracts the SQLSTATE code from a driver error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKeyError reports a unique_violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool { return pgCode(err) == "23505" }

// isNotFoundError reports that a query matched no rows.
func isNotFoundError(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
