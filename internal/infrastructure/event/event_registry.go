package event

import (
	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// RegisterAllEvents registers every domain event published by the service
func RegisterAllEvents(serializer *EventSerializer) {
	serializer.Register(fulfillment.EventTypeOrdersReloaded, &fulfillment.OrdersReloadedEvent{})
	serializer.Register(fulfillment.EventTypeMutationRolledBack, &fulfillment.MutationRolledBackEvent{})
}
