package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingAttempts = 10
	pingBackoff  = 500 * time.Millisecond
)

// New creates a new PostgreSQL connection pool, retrying the initial ping
// while the database container finishes starting.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	for attempt := 0; attempt < pingAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("platform/db: ping: %w", ctx.Err())
		case <-time.After(pingBackoff):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("platform/db: ping: %w", err)
}
