package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader abstracts kafka.Reader for testability
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory opens a reader on a topic for a consumer group
type ReaderFactory func(topic, groupID string) MessageReader

// KafkaSubscriber opens one consumer group subscription per tenant on the
// tenant's order change topic. Offsets are committed after an event has been
// handed to the consumer, so a reconnect may redeliver (at least once).
type KafkaSubscriber struct {
	topicPrefix string
	groupPrefix string
	buffer      int
	newReader   ReaderFactory
	logger      *zap.Logger
}

// NewKafkaSubscriber creates a subscriber from configuration
func NewKafkaSubscriber(cfg config.KafkaConfig, buffer int, logger *zap.Logger) *KafkaSubscriber {
	factory := func(topic, groupID string) MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
			MaxWait:  cfg.MaxWait,
		})
	}
	return NewKafkaSubscriberWith(cfg.TopicPrefix, cfg.GroupPrefix, buffer, factory, logger)
}

// NewKafkaSubscriberWith creates a subscriber over a custom reader factory
func NewKafkaSubscriberWith(topicPrefix, groupPrefix string, buffer int, factory ReaderFactory, logger *zap.Logger) *KafkaSubscriber {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSubscriber{
		topicPrefix: topicPrefix,
		groupPrefix: groupPrefix,
		buffer:      buffer,
		newReader:   factory,
		logger:      logger,
	}
}

// Topic returns the change topic of a tenant
func (s *KafkaSubscriber) Topic(tenantID uuid.UUID) string {
	return s.topicPrefix + tenantID.String()
}

// Subscribe implements integration.OrderSubscriber
func (s *KafkaSubscriber) Subscribe(ctx context.Context, tenantID uuid.UUID) (integration.EventStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topic := s.Topic(tenantID)
	reader := s.newReader(topic, s.groupPrefix+tenantID.String())
	if reader == nil {
		return nil, fmt.Errorf("%w: no reader for %s", integration.ErrDataSourceUnavailable, topic)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &kafkaStream{
		reader: reader,
		events: make(chan integration.OrderEvent, s.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: s.logger.With(zap.String("topic", topic)),
	}
	go st.run(streamCtx)
	return st, nil
}

type kafkaStream struct {
	reader MessageReader
	events chan integration.OrderEvent
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error
}

func (st *kafkaStream) Events() <-chan integration.OrderEvent { return st.events }

func (st *kafkaStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *kafkaStream) Close() error {
	st.closeOnce.Do(func() {
		st.cancel()
		<-st.done
		st.closeErr = st.reader.Close()
	})
	return st.closeErr
}

func (st *kafkaStream) fail(err error) {
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
}

func (st *kafkaStream) run(ctx context.Context) {
	defer close(st.done)
	defer close(st.events)

	for {
		msg, err := st.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				st.fail(fmt.Errorf("%w: %v", integration.ErrStreamClosed, err))
			}
			return
		}

		received := msg.Time
		if received.IsZero() {
			received = time.Now()
		}
		ev, err := DecodeChange(msg.Value, received)
		if err != nil {
			// undecodable messages are skipped rather than redelivered forever
			st.logger.Warn("dropping malformed change message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			st.commit(ctx, msg)
			continue
		}

		select {
		case st.events <- ev:
		case <-ctx.Done():
			return
		}
		st.commit(ctx, msg)
	}
}

func (st *kafkaStream) commit(ctx context.Context, msg kafka.Message) {
	if err := st.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		st.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
	}
}

var _ integration.OrderSubscriber = (*KafkaSubscriber)(nil)
