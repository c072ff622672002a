package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m3rciful/curatorbot/core/clock"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory keeps records in a process-local map. Expiry is evaluated against
// the injected clock on every access.
type Memory struct {
	mu      sync.RWMutex
	clock   clock.Clock
	horizon time.Duration
	entries map[string]memoryEntry
}

// NewMemory returns an empty store. A zero horizon means DefaultHorizon and
// a nil clock means the real one.
func NewMemory(c clock.Clock, horizon time.Duration) *Memory {
	if c == nil {
		c = clock.Real()
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Memory{
		clock:   c,
		horizon: horizon,
		entries: make(map[string]memoryEntry),
	}
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(key, value, ttl)
	return nil
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || !m.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Keys lists live keys with the given prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	keys := make([]string, 0)
	for k, e := range m.entries {
		if !strings.HasPrefix(k, prefix) || !now.Before(e.expiresAt) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Update runs fn under the store lock.
func (m *Memory) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		current []byte
		exists  bool
	)
	if e, ok := m.entries[key]; ok && m.clock.Now().Before(e.expiresAt) {
		current, exists = clone(e.value), true
	}
	next, write, err := runUpdate(fn, current, exists)
	if err != nil || !write {
		return err
	}
	m.putLocked(key, next, ttl)
	return nil
}

// Purge drops expired entries and reports how many were removed.
func (m *Memory) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of entries including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) putLocked(key string, value []byte, ttl time.Duration) {
	m.entries[key] = memoryEntry{
		value:     clone(value),
		expiresAt: m.clock.Now().Add(EffectiveTTL(ttl, m.horizon)),
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
