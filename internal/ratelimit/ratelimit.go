// internal/ratelimit/ratelimit.go

// Package ratelimit provides a request counter with TTL windows for per-user
// API throttling. The counter is an explicit resource handed to the HTTP
// layer, never a process-global map, so multiple service instances can share
// consistent limits through the Redis backend.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store counts requests per key inside fixed windows.
type Store interface {
	// Incr increments the counter for key and returns the new count. The first
	// increment of a window starts its TTL; the counter resets when it lapses.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// Memory is an in-process Store for single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemory creates an in-memory counter store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(window)}
		m.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}
