package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisEmissionGuard serializes emission of one order across service
// instances with a Redis lock. The lock expires after ttl, so a crashed
// worker cannot block an order forever.
type RedisEmissionGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisEmissionGuard creates a guard on an existing client
func NewRedisEmissionGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisEmissionGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEmissionGuard{
		locker: redislock.New(client),
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lock for key without waiting. A held lock yields
// invoicing.ErrEmissionInProgress.
func (g *RedisEmissionGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lock, err := g.locker.Obtain(ctx, key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, invoicing.ErrEmissionInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain emission lock: %w", err)
	}

	release := func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// expired while the emission was running
			g.logger.Warn("emission lock expired before release", zap.String("key", key))
			return nil
		}
		return err
	}
	return release, nil
}

var _ invoicing.EmissionGuard = (*RedisEmissionGuard)(nil)
