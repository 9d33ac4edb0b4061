// Package db provides helpers for connecting to PostgreSQL and running
// migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// Connect opens a connection pool to PostgreSQL and verifies connectivity.
// The pool is sized for the control plane's write pattern: the event-log
// recorder is the only steady writer, reads are sporadic.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	pool.SetMaxOpenConns(10)
	pool.SetMaxIdleConns(5)
	pool.SetConnMaxLifetime(5 * time.Minute)

	if err := pool.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	slog.Info("database connected", "target", redactDSN(dsn))
	return pool, nil
}

// Healthy returns nil when the database is reachable. Backs /readyz.
func Healthy(ctx context.Context, pool *sql.DB) error {
	return pool.PingContext(ctx)
}

// redactDSN reduces the DSN to host and database name so credentials never
// reach the logs.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable dsn)"
	}
	return u.Host + u.Path
}
