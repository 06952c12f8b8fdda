// Package database opens the PostgreSQL handle used by the stores.
// Connection establishment is retried with exponential backoff and
// bounded attempts; individual operations after a healthy connection
// are never silently retried here — failures surface to the caller.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq" // postgres driver
)

const (
	connectAttempts = 3
	pingTimeout     = 10 * time.Second

	defaultMaxOpenConns = 50
	maxIdleConns        = 5
	connMaxIdleTime     = 30 * time.Second
)

// Open connects to PostgreSQL and verifies the connection, retrying
// the initial ping up to connectAttempts times with exponential
// backoff. maxOpenConns <= 0 selects the default pool size. The
// returned handle is pooled and safe for concurrent use.
func Open(ctx context.Context, dsn string, maxOpenConns int, logger *slog.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxOpenConns <= 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return db.PingContext(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("database connection attempt failed",
			"error", err, "retry_in", next)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectAttempts-1), ctx)
	if err := backoff.RetryNotify(ping, bo, notify); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	logger.Info("connected to database")
	return db, nil
}
