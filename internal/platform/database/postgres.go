package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Pool sizes the connection pool of the record store. Zero fields take the
// defaults below.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectAttempts bounds how often the first ping is tried while the
	// database is still starting.
	ConnectAttempts int
	RetryInterval   time.Duration
}

func (p Pool) withDefaults() Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 10
	}
	if p.MaxIdleConns <= 0 || p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns / 2
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 30 * time.Minute
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = 5 * time.Minute
	}
	if p.ConnectAttempts <= 0 {
		p.ConnectAttempts = 5
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = time.Second
	}
	return p
}

// NewPostgres opens the record store database and waits until it answers.
func NewPostgres(ctx context.Context, url string, pool Pool, logger *slog.Logger) (*sqlx.DB, error) {
	pool = pool.withDefaults()

	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := ping(ctx, db, pool, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sqlx.DB, pool Pool, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= pool.ConnectAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == pool.ConnectAttempts {
			break
		}
		if logger != nil {
			logger.Warn("postgres not ready, retrying", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect postgres: %w", ctx.Err())
		case <-time.After(pool.RetryInterval):
		}
	}
	return fmt.Errorf("connect postgres after %d attempts: %w", pool.ConnectAttempts, err)
}
