package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Data source
// ---------------------------------------------------------------------------

// OrderFilter narrows a full fetch
type OrderFilter struct {
	TenantID    uuid.UUID
	From        *time.Time
	To          *time.Time
	Marketplace Marketplace
	OrderIDs    []string
	Limit       int
}

// OrderFetcher loads order rows from the backing store
type OrderFetcher interface {
	FetchOrders(ctx context.Context, filter OrderFilter) ([]RawRow, error)
}

// EventStream is one realtime subscription. Events is closed when the
// subscription ends; Err then reports why (nil after Close).
type EventStream interface {
	Events() <-chan OrderEvent
	Err() error
	Close() error
}

// OrderSubscriber opens realtime subscriptions per tenant
type OrderSubscriber interface {
	Subscribe(ctx context.Context, tenantID uuid.UUID) (EventStream, error)
}

// DataSource is the backing store of orders
type DataSource interface {
	OrderFetcher
	OrderSubscriber
}

// ---------------------------------------------------------------------------
// Marketplace sync jobs
// ---------------------------------------------------------------------------

// SelectorKind selects which orders a sync job pulls
type SelectorKind string

const (
	SelectAll         SelectorKind = "all"
	SelectByIDs       SelectorKind = "by_ids"
	SelectByDateRange SelectorKind = "by_date_range"
)

// SyncSelector selects the orders to pull
type SyncSelector struct {
	Kind     SelectorKind
	OrderIDs []string
	From     time.Time
	To       time.Time
}

// Validate validates the selector
func (s SyncSelector) Validate() error {
	switch s.Kind {
	case SelectAll:
		return nil
	case SelectByIDs:
		if len(s.OrderIDs) == 0 {
			return ErrInvalidSelector
		}
		return nil
	case SelectByDateRange:
		if s.From.IsZero() || s.To.IsZero() || s.To.Before(s.From) {
			return ErrInvalidSelector
		}
		return nil
	default:
		return ErrInvalidSelector
	}
}

// SyncResult reports how many orders a sync job pulled. The orders
// themselves are only observed through a subsequent reload.
type SyncResult struct {
	SyncedCount int
}

// MarketplaceSync triggers the marketplace pull jobs
type MarketplaceSync interface {
	SyncOrders(ctx context.Context, tenantID uuid.UUID, selector SyncSelector) (SyncResult, error)
}

// ---------------------------------------------------------------------------
// Label renderer
// ---------------------------------------------------------------------------

// LabelContent is a rendered shipping label
type LabelContent struct {
	OrderID     string
	Content     []byte
	ContentType string
	FetchedAt   time.Time
}

// LabelRenderer serves cached label renditions
type LabelRenderer interface {
	// GetCachedLabel returns the cached label; found is false when absent
	GetCachedLabel(ctx context.Context, tenantID uuid.UUID, orderID string) (label LabelContent, found bool, err error)
	// MarkPrinted records that the labels were printed
	MarkPrinted(ctx context.Context, tenantID uuid.UUID, orderIDs []string) error
}
