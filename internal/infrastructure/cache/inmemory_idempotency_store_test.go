package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedStore(t *testing.T) (*InMemoryIdempotencyStore, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := NewInMemoryIdempotencyStore(WithClock(clock.Now), WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestInMemoryIdempotencyStore_Claims(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		wantNew bool
	}{
		{name: "redelivery inside the window", ttl: time.Hour, advance: 59 * time.Minute, wantNew: false},
		{name: "redelivery at expiry", ttl: time.Hour, advance: time.Hour, wantNew: true},
		{name: "redelivery after expiry", ttl: time.Minute, advance: 2 * time.Minute, wantNew: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, clock := newClockedStore(t)

			isNew, err := store.MarkProcessed(ctx, "ml:2000001:v3", tt.ttl)
			require.NoError(t, err)
			require.True(t, isNew)

			clock.Advance(tt.advance)
			isNew, err = store.MarkProcessed(ctx, "ml:2000001:v3", tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNew, isNew)

			processed, err := store.IsProcessed(ctx, "ml:2000001:v3")
			require.NoError(t, err)
			assert.True(t, processed)
		})
	}
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	ctx := context.Background()
	store, clock := newClockedStore(t)

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "evt", time.Minute)
	require.NoError(t, err)
	processed, _ = store.IsProcessed(ctx, "evt")
	assert.True(t, processed)

	clock.Advance(time.Minute)
	processed, _ = store.IsProcessed(ctx, "evt")
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_Release(t *testing.T) {
	ctx := context.Background()
	store, _ := newClockedStore(t)

	_, _ = store.MarkProcessed(ctx, "evt", time.Hour)
	require.NoError(t, store.Release(ctx, "evt"))
	require.NoError(t, store.Release(ctx, "never-marked"))

	isNew, err := store.MarkProcessed(ctx, "evt", time.Hour)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store, clock := newClockedStore(t)

	_, _ = store.MarkProcessed(ctx, "short-1", time.Second)
	_, _ = store.MarkProcessed(ctx, "short-2", time.Second)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	require.Equal(t, 3, store.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 2, store.sweep())
	assert.Equal(t, 1, store.Len())

	processed, _ := store.IsProcessed(ctx, "long")
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_SingleWinner(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	const workers = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := store.MarkProcessed(context.Background(), "same-event", time.Hour)
			if err == nil && isNew {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore(WithSweepInterval(time.Millisecond))
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
