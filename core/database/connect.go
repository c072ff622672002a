package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/logger"
)

const connectTimeout = 5 * time.Second

// Connect opens the pool, sizes it and verifies connectivity.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	target := []slog.Attr{
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}
	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", DSN(cfg))
	if err != nil {
		logger.Error(ctx, logger.CompDB, "db.connect",
			append(target, slog.String("status", "fail"), logger.Err(err), slog.Duration("duration", logger.Took(start)))...)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	logger.Info(ctx, logger.CompDB, "db.connect",
		append(target,
			slog.String("status", "ok"),
			slog.Int("count", cfg.MaxConnections),
			slog.Duration("duration", logger.Took(start)),
		)...)
	return db, nil
}

// WaitReady pings the server every two seconds until it answers or
// timeout elapses.
func WaitReady(ctx context.Context, cfg config.PostgresConfig, c clock.Clock, timeout time.Duration) error {
	if c == nil {
		c = clock.Real()
	}
	deadline := c.Now().Add(timeout)
	var lastErr error
	for {
		db, err := sqlx.Open("postgres", DSN(cfg))
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err = db.PingContext(pingCtx)
			cancel()
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if !c.Now().Before(deadline) {
			return fmt.Errorf("database not ready after %s: %w", timeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(2 * time.Second):
		}
	}
}
