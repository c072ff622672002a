// Package bootstrap prepares shared infrastructure: the logger and the
// ephemeral store backend.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/curatorbot/core/clock"
	coreconfig "github.com/m3rciful/curatorbot/core/config"
	coredatabase "github.com/m3rciful/curatorbot/core/database"
	"github.com/m3rciful/curatorbot/core/kvstore"
	"github.com/m3rciful/curatorbot/core/logger"
)

const dbReadyTimeout = 30 * time.Second

// Options control the bootstrap pipeline. Nil hooks use the defaults.
type Options struct {
	Config *coreconfig.Config
	Clock  clock.Clock

	LoggerInit func(*coreconfig.Config) error
	WaitReady  func(ctx context.Context, cfg coreconfig.PostgresConfig) error
	Connect    func(ctx context.Context, cfg coreconfig.PostgresConfig) (*sqlx.DB, error)
	Migrate    func(ctx context.Context, cfg coreconfig.PostgresConfig) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store kvstore.Store
	// DB is nil for the memory backend.
	DB *sqlx.DB
}

// Close releases the database pool, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger and opens the configured store. The postgres
// backend waits for the server, connects and applies migrations first.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config
	c := opts.Clock
	if c == nil {
		c = clock.Real()
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.Init
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	switch cfg.Store.Backend {
	case coreconfig.StorePostgres:
		return openPostgres(ctx, opts, c)
	default:
		logger.Info(ctx, logger.CompStore, "store.open",
			slog.String("status", "ok"),
			slog.String("backend", coreconfig.StoreMemory),
			slog.Duration("horizon", cfg.Store.Horizon),
		)
		return &Result{Store: kvstore.NewMemory(c, cfg.Store.Horizon)}, nil
	}
}

func openPostgres(ctx context.Context, opts Options, c clock.Clock) (*Result, error) {
	pg := opts.Config.Store.Postgres

	waitReady := opts.WaitReady
	if waitReady == nil {
		waitReady = func(ctx context.Context, cfg coreconfig.PostgresConfig) error {
			return coredatabase.WaitReady(ctx, cfg, c, dbReadyTimeout)
		}
	}
	if err := waitReady(ctx, pg); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, pg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	logger.Info(ctx, logger.CompStore, "store.open",
		slog.String("status", "ok"),
		slog.String("backend", coreconfig.StorePostgres),
		slog.Duration("horizon", opts.Config.Store.Horizon),
	)
	return &Result{Store: kvstore.NewPostgres(db, c, opts.Config.Store.Horizon), DB: db}, nil
}
