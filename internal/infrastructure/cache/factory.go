package cache

import (
	"context"
	"fmt"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends are the coordination stores shared by tenant sessions and the
// emission pipeline
type Backends struct {
	Idempotency shared.IdempotencyStore
	// Guard is nil when Redis is not in use; callers fall back to a
	// process-local guard
	Guard invoicing.EmissionGuard

	client *redis.Client
}

// Close releases the Redis connection and the idempotency store
func (b *Backends) Close() error {
	err := b.Idempotency.Close()
	if b.client != nil {
		if cerr := b.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Ping checks the Redis connection. In-memory backends are always reachable.
func (b *Backends) Ping(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Ping(ctx).Err()
}

// FactoryOption is a functional option for configuring the factory
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to in-memory stores when
// Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) {
		f.allowInMemoryFallback = allow
	}
}

// Factory creates coordination backends based on configuration
type Factory struct {
	redisConfig           config.RedisConfig
	invoicingConfig       config.InvoicingConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// NewFactory creates a new factory
func NewFactory(redisCfg config.RedisConfig, invoicingCfg config.InvoicingConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           redisCfg,
		invoicingConfig:       invoicingCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds Redis-backed stores when Redis is enabled and reachable, and
// in-memory ones otherwise
func (f *Factory) Create(ctx context.Context) (*Backends, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("redis disabled, using in-memory idempotency store and local emission guard")
		return f.inMemory(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err != nil {
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("redis required but unavailable: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory stores. "+
			"Realtime dedupe and emission locks will not be shared between instances.",
			zap.Error(err),
		)
		return f.inMemory(), nil
	}

	f.logger.Info("using Redis idempotency store and emission guard", zap.String("addr", f.redisConfig.Addr()))
	return f.withClient(client), nil
}

func (f *Factory) withClient(client *redis.Client) *Backends {
	return &Backends{
		Idempotency: NewRedisIdempotencyStore(client, ""),
		Guard:       NewRedisEmissionGuard(client, f.invoicingConfig.LockTTL, f.logger),
		client:      client,
	}
}

func (f *Factory) inMemory() *Backends {
	return &Backends{Idempotency: NewInMemoryIdempotencyStore()}
}
