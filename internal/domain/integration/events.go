package integration

import (
	"time"
)

// EventKind is the kind of change carried by a realtime event
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// IsValid returns true if the kind is known
func (k EventKind) IsValid() bool {
	return k == EventInsert || k == EventUpdate || k == EventDelete
}

// OrderEvent is one change pushed by the data source. Delivery is at least once.
type OrderEvent struct {
	// ID identifies the delivery for deduplication. It may be empty.
	ID   string
	Kind EventKind
	// OrderID is the key of the affected order
	OrderID string
	// Row is the full or partial row. Nil for deletes.
	Row RawRow
	// Partial marks an update carrying only changed fields
	Partial    bool
	ReceivedAt time.Time
}
