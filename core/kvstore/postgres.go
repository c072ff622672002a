package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/curatorbot/core/clock"
)

// Postgres keeps records in the kv_records table created by the
// 0001_kv_records migration. Expired rows stay invisible to reads until
// Purge deletes them.
type Postgres struct {
	db      *sqlx.DB
	clock   clock.Clock
	horizon time.Duration
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB, c clock.Clock, horizon time.Duration) *Postgres {
	if c == nil {
		c = clock.Real()
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Postgres{db: db, clock: c, horizon: horizon}
}

const (
	upsertRecordSQL = `INSERT INTO kv_records (key, value, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	selectRecordSQL  = `SELECT value FROM kv_records WHERE key = $1 AND expires_at > $2`
	deleteRecordSQL  = `DELETE FROM kv_records WHERE key = $1`
	selectKeysSQL    = `SELECT key FROM kv_records WHERE starts_with(key, $1) AND expires_at > $2`
	purgeRecordsSQL  = `DELETE FROM kv_records WHERE expires_at <= $1`
	reserveRecordSQL = `INSERT INTO kv_records (key, value, expires_at) VALUES ($1, '', 'epoch')
ON CONFLICT (key) DO NOTHING`
	lockRecordSQL = `SELECT value, expires_at FROM kv_records WHERE key = $1 FOR UPDATE`
)

// Set upserts key.
func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := p.db.ExecContext(ctx, upsertRecordSQL, key, value, p.expiry(ttl)); err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

// Get returns the live value of key.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.GetContext(ctx, &value, selectRecordSQL, key, p.clock.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return value, true, nil
}

// Delete removes key.
func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.db.ExecContext(ctx, deleteRecordSQL, key); err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// Keys lists live keys with the given prefix.
func (p *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	if err := p.db.SelectContext(ctx, &keys, selectKeysSQL, prefix, p.clock.Now()); err != nil {
		return nil, fmt.Errorf("kvstore: keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Update locks the row for key inside a transaction. A placeholder row is
// reserved first so concurrent updates of a missing key serialize as well.
func (p *Postgres) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (err error) {
	if key == "" {
		return ErrEmptyKey
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin update %q: %w", key, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, reserveRecordSQL, key); err != nil {
		return fmt.Errorf("kvstore: reserve %q: %w", key, err)
	}
	var row struct {
		Value     []byte    `db:"value"`
		ExpiresAt time.Time `db:"expires_at"`
	}
	if err = tx.GetContext(ctx, &row, lockRecordSQL, key); err != nil {
		return fmt.Errorf("kvstore: lock %q: %w", key, err)
	}

	exists := row.ExpiresAt.After(p.clock.Now())
	var current []byte
	if exists {
		current = row.Value
	}
	next, write, err := runUpdate(fn, current, exists)
	if err != nil {
		return err
	}
	if write {
		if _, err = tx.ExecContext(ctx, upsertRecordSQL, key, next, p.expiry(ttl)); err != nil {
			return fmt.Errorf("kvstore: write %q: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("kvstore: commit %q: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows.
func (p *Postgres) Purge(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, purgeRecordsSQL, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("kvstore: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) expiry(ttl time.Duration) time.Time {
	return p.clock.Now().Add(EffectiveTTL(ttl, p.horizon))
}
