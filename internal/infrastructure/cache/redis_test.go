package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := NewRedisIdempotencyStore(client, "")
	ctx := context.Background()

	isNew, err := store.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew)

	processed, err := store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
	assert.True(t, mr.Exists(defaultIdempotencyPrefix+"evt-1"))

	require.NoError(t, store.Release(ctx, "evt-1"))
	assert.False(t, mr.Exists(defaultIdempotencyPrefix+"evt-1"))
	isNew, err = store.MarkProcessed(ctx, "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew, "a released event can be claimed again")

	mr.FastForward(2 * time.Minute)
	processed, err = store.IsProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)

	assert.NoError(t, store.Close())
}

func TestRedisIdempotencyStore_ConnectionError(t *testing.T) {
	mr, client := newMiniRedis(t)
	store := NewRedisIdempotencyStore(client, "custom:")
	mr.Close()

	_, err := store.MarkProcessed(context.Background(), "evt", time.Minute)
	assert.Error(t, err)
}

func TestRedisEmissionGuard(t *testing.T) {
	mr, client := newMiniRedis(t)
	guard := NewRedisEmissionGuard(client, time.Minute, nil)
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "emission:t:sandbox:o-1")
	require.NoError(t, err)

	_, err = guard.Acquire(ctx, "emission:t:sandbox:o-1")
	assert.ErrorIs(t, err, invoicing.ErrEmissionInProgress)

	other, err := guard.Acquire(ctx, "emission:t:sandbox:o-2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := guard.Acquire(ctx, "emission:t:sandbox:o-1")
	require.NoError(t, err)

	// an expired lock releases cleanly
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, again(ctx))
}

func TestFactory_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled uses in-memory", func(t *testing.T) {
		b, err := NewFactory(config.RedisConfig{}, config.InvoicingConfig{}).Create(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryIdempotencyStore{}, b.Idempotency)
		assert.Nil(t, b.Guard)
		assert.NoError(t, b.Ping(ctx))
		assert.NoError(t, b.Close())
	})

	t.Run("unreachable falls back", func(t *testing.T) {
		cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
		b, err := NewFactory(cfg, config.InvoicingConfig{}).Create(ctx)
		require.NoError(t, err)
		assert.IsType(t, &InMemoryIdempotencyStore{}, b.Idempotency)
		assert.NoError(t, b.Close())
	})

	t.Run("unreachable without fallback fails", func(t *testing.T) {
		cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}
		_, err := NewFactory(cfg, config.InvoicingConfig{}, WithInMemoryFallback(false)).Create(ctx)
		assert.Error(t, err)
	})

	t.Run("reachable uses redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		port, err := strconv.Atoi(mr.Port())
		require.NoError(t, err)
		cfg := config.RedisConfig{Enabled: true, Host: mr.Host(), Port: port}
		b, err := NewFactory(cfg, config.InvoicingConfig{LockTTL: time.Minute}).Create(ctx)
		require.NoError(t, err)
		assert.IsType(t, &RedisIdempotencyStore{}, b.Idempotency)
		assert.IsType(t, &RedisEmissionGuard{}, b.Guard)
		assert.NoError(t, b.Ping(ctx))

		mr.SetError("LOADING Redis is loading the dataset in memory")
		assert.Error(t, b.Ping(ctx))
		mr.SetError("")
		assert.NoError(t, b.Close())
	})
}
