package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetReturnsUnexpiredEntry(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(24*time.Hour, WithClock(func() time.Time { return now }))

	c.Put(context.Background(), 42, []byte(`{"id":42}`))

	payload, ok := c.Get(context.Background(), 42)
	require.True(t, ok)
	require.JSONEq(t, `{"id":42}`, string(payload))
}

func TestMemoryGetExpiredEntryMisses(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(24*time.Hour, WithClock(func() time.Time { return now }))

	c.Put(context.Background(), 42, []byte(`{"id":42}`))

	// 25 hours later the 24h TTL has lapsed: a fresh upstream fetch is forced.
	now = now.Add(25 * time.Hour)

	_, ok := c.Get(context.Background(), 42)
	require.False(t, ok)
}

func TestMemoryGetMissesForUnknownID(t *testing.T) {
	c := NewMemory(24 * time.Hour)

	_, ok := c.Get(context.Background(), 7)
	require.False(t, ok)
}

func TestMemoryInvalidateRemovesEntry(t *testing.T) {
	c := NewMemory(24 * time.Hour)

	c.Put(context.Background(), 42, []byte("payload"))
	c.Invalidate(context.Background(), 42)

	_, ok := c.Get(context.Background(), 42)
	require.False(t, ok)
}

func TestMemorySweepRemovesOnlyExpired(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(24*time.Hour, WithClock(func() time.Time { return now }))

	c.Put(context.Background(), 1, []byte("old"))

	now = now.Add(12 * time.Hour)
	c.Put(context.Background(), 2, []byte("fresh"))

	now = now.Add(13 * time.Hour)
	removed := c.Sweep(context.Background())

	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())

	_, ok := c.Get(context.Background(), 2)
	require.True(t, ok)
}

func TestMemoryPutOverwrites(t *testing.T) {
	c := NewMemory(24 * time.Hour)

	c.Put(context.Background(), 42, []byte("first"))
	c.Put(context.Background(), 42, []byte("second"))

	payload, ok := c.Get(context.Background(), 42)
	require.True(t, ok)
	require.Equal(t, "second", string(payload))
}

func TestMemoryConcurrentAccess(t *testing.T) {
	c := NewMemory(24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c.Put(context.Background(), id, []byte("payload"))
			c.Get(context.Background(), id)
			c.Sweep(context.Background())
		}(int64(i))
	}
	wg.Wait()

	require.Equal(t, 16, c.Len())
}
