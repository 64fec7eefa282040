// Package guard implements the per-event "already handled" marker behind the
// exactly-once reply discipline. Acquire is an atomic check-and-set on the
// event ID: the first caller wins, every later caller (a concurrent worker or
// a platform redelivery) loses.
//
// Memory is for single-instance deployments; Redis is the shared variant for
// horizontally scaled ones.
package guard

import (
	"context"
	"sync"
	"time"
)

// Memory is a mutex-guarded marker map with TTL eviction.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time // event ID -> acquisition time
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory guard. ttl only needs to outlive the
// platform's redelivery window; entries older than that are swept.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	m := &Memory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Acquire returns true if this caller is the first to handle eventID.
func (m *Memory) Acquire(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if at, ok := m.entries[eventID]; ok && time.Since(at) < m.ttl {
		return false, nil
	}
	m.entries[eventID] = time.Now()
	return true, nil
}

func (m *Memory) sweep() {
	interval := m.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl)
			m.mu.Lock()
			for id, at := range m.entries {
				if at.Before(cutoff) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close stops the eviction sweeper.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
