package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/curatorbot/core/config"
	"github.com/m3rciful/curatorbot/core/kvstore"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemoryBackend(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Store.Backend = coreconfig.StoreMemory
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := res.Store.(*kvstore.Memory); !ok {
		t.Fatalf("store = %T, want *kvstore.Memory", res.Store)
	}
	if res.DB != nil || res.Close() != nil {
		t.Fatal("memory backend opened a database")
	}
}

func TestRunPostgresMigrationFailureClosesPool(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Store.Backend = coreconfig.StorePostgres
	boom := errors.New("dirty schema")

	db, err := sqlx.Open("postgres", "host=127.0.0.1 dbname=unused sslmode=disable")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var order []string
	_, err = Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		WaitReady: func(context.Context, coreconfig.PostgresConfig) error {
			order = append(order, "wait")
			return nil
		},
		Connect: func(context.Context, coreconfig.PostgresConfig) (*sqlx.DB, error) {
			order = append(order, "connect")
			return db, nil
		},
		Migrate: func(context.Context, coreconfig.PostgresConfig) error {
			order = append(order, "migrate")
			return boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(order) != 3 || order[0] != "wait" || order[2] != "migrate" {
		t.Fatalf("steps = %v", order)
	}
	if err := db.Ping(); err == nil || err.Error() != "sql: database is closed" {
		t.Fatalf("pool still open: %v", err)
	}
}

func TestRunLoggerFailure(t *testing.T) {
	boom := errors.New("no log dir")
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
