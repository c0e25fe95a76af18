package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed event IDs so at-least-once delivery
// (realtime reconnects, replayed topic offsets) is applied only once.
type IdempotencyStore interface {
	// MarkProcessed marks an event as processed with a TTL.
	// Returns true if the event was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event has already been processed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Release drops the mark of an event whose processing did not complete,
	// so a redelivery is processed again
	Release(ctx context.Context, eventID string) error

	// Close closes the store and releases resources
	Close() error
}
