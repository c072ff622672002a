package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/curatorbot/core/clock"
	"github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/logger"
)

// RunMigrations waits for the server and applies every pending up
// migration found in cfg.MigrationsDir.
func RunMigrations(ctx context.Context, cfg config.PostgresConfig) error {
	if err := WaitReady(ctx, cfg, clock.Real(), 30*time.Second); err != nil {
		logger.Error(ctx, logger.CompMigrate, "db.migrate", slog.String("status", "fail"), logger.Err(err))
		return err
	}

	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}
	files := upFiles(dir)
	logger.Debug(ctx, logger.CompMigrate, "db.migrate.resolve",
		slog.String("key", dir),
		slog.Int("count", len(files)),
	)

	m, err := migrate.New("file://"+filepath.ToSlash(dir), URL(cfg))
	if err != nil {
		logger.Error(ctx, logger.CompMigrate, "db.migrate", slog.String("status", "fail"), logger.Err(err))
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	from, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		logger.Error(ctx, logger.CompMigrate, "db.migrate.apply",
			slog.String("status", "fail"),
			logger.Err(upErr),
			slog.Duration("duration", logger.Took(start)),
		)
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	to, _, _ := m.Version()

	logger.Info(ctx, logger.CompMigrate, "db.migrate.summary",
		slog.String("status", "ok"),
		slog.Uint64("from", uint64(from)),
		slog.Uint64("to", uint64(to)),
		slog.Int("count", applied(files, uint64(from), uint64(to))),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func upFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func fileVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// applied counts files with a version in (from, to].
func applied(files []string, from, to uint64) int {
	n := 0
	for _, f := range files {
		if v := fileVersion(f); v > from && v <= to {
			n++
		}
	}
	return n
}
