// Package store provides record stores for the mirror: in-memory, Redis, and
// SQLite backends all implementing the same Get/Upsert contract.
package store

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/eranova-digital/datacore/pkg/mirror"
)

// Memory is a map-backed store. Intended for tests and single-process
// deployments without persistence requirements.
type Memory[T any] struct {
	mu      sync.RWMutex
	records map[string]mirror.Record[T]
	clk     clock.Clock
}

// MemoryOption configures a Memory store.
type MemoryOption[T any] func(*Memory[T])

// WithMemoryClock injects a clock for deterministic LastUpdated stamps.
func WithMemoryClock[T any](clk clock.Clock) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.clk = clk
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory[T any](opts ...MemoryOption[T]) *Memory[T] {
	m := &Memory[T]{
		records: make(map[string]mirror.Record[T]),
		clk:     clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the record for key, or (nil, nil) when none exists.
func (m *Memory[T]) Get(ctx context.Context, key string) (*mirror.Record[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	// Copy so callers never alias the stored record.
	cp := rec
	return &cp, nil
}

// Upsert creates or replaces the record for key, stamping LastUpdated.
func (m *Memory[T]) Upsert(ctx context.Context, key string, payload T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = mirror.Record[T]{
		Key:         key,
		Payload:     payload,
		LastUpdated: m.clk.Now(),
	}
	return nil
}

// Len returns the number of stored records.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
