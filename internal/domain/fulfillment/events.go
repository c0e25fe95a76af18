package fulfillment

import (
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	// AggregateTypeOrderTable is the aggregate type of events about a tenant's whole order table
	AggregateTypeOrderTable = "OrderTable"

	EventTypeOrdersReloaded     = "OrdersReloaded"
	EventTypeMutationRolledBack = "OrderMutationRolledBack"
)

// OrdersReloadedEvent is published after a full reload has been applied to the store
type OrdersReloadedEvent struct {
	shared.BaseDomainEvent
	RunID uint64 `json:"run_id"`
	Count int    `json:"count"`
}

// NewOrdersReloadedEvent creates an OrdersReloadedEvent
func NewOrdersReloadedEvent(tenantID uuid.UUID, runID uint64, count int) *OrdersReloadedEvent {
	return &OrdersReloadedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrdersReloaded, AggregateTypeOrderTable, tenantID.String(), tenantID),
		RunID:           runID,
		Count:           count,
	}
}

// MutationRolledBackEvent is published when an optimistic mutation is reverted
type MutationRolledBackEvent struct {
	shared.BaseDomainEvent
	Token  uuid.UUID `json:"token"`
	Reason string    `json:"reason"`
}

// NewMutationRolledBackEvent creates a MutationRolledBackEvent
func NewMutationRolledBackEvent(tenantID uuid.UUID, orderID string, token uuid.UUID, reason string) *MutationRolledBackEvent {
	return &MutationRolledBackEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMutationRolledBack, "Order", orderID, tenantID),
		Token:           token,
		Reason:          reason,
	}
}
