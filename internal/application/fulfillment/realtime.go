package fulfillment

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/integration"
)

// RealtimePump subscribes a store to the tenant's realtime stream and feeds
// events to it one at a time. It resubscribes with exponential backoff
// whenever the stream ends.
type RealtimePump struct {
	store      *Store
	subscriber integration.OrderSubscriber
	tenantID   uuid.UUID
	logger     *zap.Logger

	// InitialBackoff and MaxBackoff bound the resubscribe delay
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnResubscribe runs after a lost stream is re-established, typically a reload
	// to catch changes missed while disconnected
	OnResubscribe func(ctx context.Context)
}

// NewRealtimePump creates a pump for the store's tenant
func NewRealtimePump(store *Store, subscriber integration.OrderSubscriber, logger *zap.Logger) *RealtimePump {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimePump{
		store:          store,
		subscriber:     subscriber,
		tenantID:       store.TenantID(),
		logger:         logger.With(zap.String("tenant_id", store.TenantID().String())),
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Run consumes the stream until ctx is cancelled
func (p *RealtimePump) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0

	connectedBefore := false
	for {
		stream, err := p.subscriber.Subscribe(ctx, p.tenantID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			p.logger.Warn("realtime subscribe failed, retrying",
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		b.Reset()
		if connectedBefore && p.OnResubscribe != nil {
			p.OnResubscribe(ctx)
		}
		connectedBefore = true
		p.logger.Info("realtime stream subscribed")

		p.consume(ctx, stream)
		streamErr := stream.Err()
		_ = stream.Close()
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		p.logger.Warn("realtime stream lost, resubscribing",
			zap.Duration("retry_in", wait),
			zap.Error(streamErr),
		)
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (p *RealtimePump) consume(ctx context.Context, stream integration.EventStream) {
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := p.store.ApplyRealtimeEvent(ctx, ev); err != nil && ctx.Err() == nil {
				p.logger.Debug("realtime event not applied",
					zap.String("event_id", ev.ID),
					zap.String("order_id", ev.OrderID),
					zap.Error(err),
				)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
