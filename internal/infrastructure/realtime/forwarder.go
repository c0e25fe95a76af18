package realtime

import (
	"context"
	"fmt"

	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/event"
	"github.com/segmentio/kafka-go"
)

// MessageWriter abstracts kafka.Writer for testability
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventForwarder republishes domain events to a Kafka topic for other
// back-office services. Messages are keyed by tenant so one tenant's events
// stay ordered within a partition.
type EventForwarder struct {
	writer     MessageWriter
	serializer *event.EventSerializer
	types      []string
}

// NewKafkaWriter creates a synchronous writer on topic
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewEventForwarder forwards the given event types, or every event when none
// are given
func NewEventForwarder(writer MessageWriter, serializer *event.EventSerializer, eventTypes ...string) *EventForwarder {
	return &EventForwarder{writer: writer, serializer: serializer, types: eventTypes}
}

// EventTypes implements shared.EventHandler
func (f *EventForwarder) EventTypes() []string { return f.types }

// Handle implements shared.EventHandler
func (f *EventForwarder) Handle(ctx context.Context, ev shared.DomainEvent) error {
	value, err := f.serializer.Serialize(ev)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", ev.EventType(), err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TenantID().String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.EventType())},
			{Key: "event_id", Value: []byte(ev.EventID().String())},
		},
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("forward %s: %w", ev.EventType(), err)
	}
	return nil
}

var _ shared.EventHandler = (*EventForwarder)(nil)
