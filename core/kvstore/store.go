// Package kvstore is the ephemeral keyed store every relay component keeps
// its records in. Records expire after a fixed horizon unless written with a
// shorter TTL; reading an expired or missing key reports absence, not an
// error.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// DefaultHorizon is the lifetime applied when no shorter TTL is requested.
const DefaultHorizon = 24 * time.Hour

var (
	// ErrSkipWrite aborts an Update without writing and without failing it.
	ErrSkipWrite = errors.New("kvstore: skip write")
	// ErrEmptyKey rejects operations on the empty key.
	ErrEmptyKey = errors.New("kvstore: empty key")
)

// UpdateFunc receives the current value of a key and returns the value to
// store. exists is false for a missing or expired key. Returning an error
// aborts the update; ErrSkipWrite aborts it silently.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is the contract shared by the memory and PostgreSQL backends.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// Keys lists live keys starting with prefix in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Update atomically reads and rewrites a single key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// Purger is implemented by backends that can drop expired records eagerly.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// EffectiveTTL clamps ttl to (0, horizon]. Zero or negative values and values
// above the horizon yield the horizon itself.
func EffectiveTTL(ttl, horizon time.Duration) time.Duration {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if ttl <= 0 || ttl > horizon {
		return horizon
	}
	return ttl
}

func runUpdate(fn UpdateFunc, current []byte, exists bool) ([]byte, bool, error) {
	next, err := fn(current, exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}
