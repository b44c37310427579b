package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	payload   []byte
	cachedAt  time.Time
	expiresAt time.Time
}

// Memory is an in-process Cache with TTL expiry. The clock is injectable so
// expiry behaviour can be unit tested.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[int64]entry
}

// MemoryOption configures optional behaviour for Memory.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory constructs an in-memory cache with the given TTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached payload when present and unexpired.
func (m *Memory) Get(_ context.Context, activityID int64) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[activityID]
	m.mu.RUnlock()

	if !ok || m.now().After(e.expiresAt) {
		recordMiss()
		return nil, false
	}
	recordHit()
	return e.payload, true
}

// Put stores a payload, overwriting any previous entry for the id.
func (m *Memory) Put(_ context.Context, activityID int64, payload []byte) {
	now := m.now()
	m.mu.Lock()
	m.entries[activityID] = entry{
		payload:   payload,
		cachedAt:  now,
		expiresAt: now.Add(m.ttl),
	}
	m.mu.Unlock()
}

// Invalidate removes the entry for the id, if any.
func (m *Memory) Invalidate(_ context.Context, activityID int64) {
	m.mu.Lock()
	delete(m.entries, activityID)
	m.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep(_ context.Context) int {
	now := m.now()
	removed := 0

	m.mu.Lock()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
			removed++
		}
	}
	m.mu.Unlock()

	recordSwept(removed)
	return removed
}

// Len reports the current entry count, expired entries included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
