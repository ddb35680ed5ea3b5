// Package ratelimit counts requests per key in fixed windows, either in
// process or in Redis, and guards pickup confirmations against abuse.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether another request under key fits within limit per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type entry struct {
	count    int
	windowAt time.Time
}

// Memory provides in-process rate limiting for single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow returns true if the key has not exceeded limit in the given window.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.windowAt) {
		m.entries[key] = &entry{count: 1, windowAt: now.Add(window)}
		return limit > 0, nil
	}
	e.count++
	return e.count <= limit, nil
}

// Cleanup removes expired entries.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if now.After(e.windowAt) {
			delete(m.entries, key)
		}
	}
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (m *Memory) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}
