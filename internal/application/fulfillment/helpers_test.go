package fulfillment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/shared"
)

var baseTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu    sync.Mutex
	rows  []integration.RawRow
	err   error
	calls int
}

func (f *stubFetcher) FetchOrders(ctx context.Context, filter integration.OrderFilter) ([]integration.RawRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *stubFetcher) set(rows []integration.RawRow, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	f.err = err
}

// gatedFetcher holds FetchOrders until release is closed
type gatedFetcher struct {
	rows    []integration.RawRow
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *gatedFetcher) FetchOrders(ctx context.Context, filter integration.OrderFilter) ([]integration.RawRow, error) {
	f.once.Do(func() { close(f.entered) })
	select {
	case <-f.release:
		return f.rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryDedupe() *memoryDedupe {
	return &memoryDedupe{seen: make(map[string]bool)}
}

func (d *memoryDedupe) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memoryDedupe) IsProcessed(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memoryDedupe) Release(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

func (d *memoryDedupe) Close() error { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// blockingPublisher blocks on events of one type until unblocked or cancelled
type blockingPublisher struct {
	eventType string
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newBlockingPublisher(eventType string) *blockingPublisher {
	return &blockingPublisher{
		eventType: eventType,
		entered:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (p *blockingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, e := range events {
		if e.EventType() != p.eventType {
			continue
		}
		select {
		case p.entered <- struct{}{}:
		default:
		}
		select {
		case <-p.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *blockingPublisher) unblock() {
	p.once.Do(func() { close(p.release) })
}

type countingRecorder struct {
	mu            sync.Mutex
	outcomes      map[string]int
	stale         int
	rolledBack    int
	normalization int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) RealtimeEvent(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) StaleRunDiscarded(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *countingRecorder) OptimisticRolledBack(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolledBack++
}

func (r *countingRecorder) NormalizationFailed(context.Context, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalization++
}

func testConfig() StoreConfig {
	cfg := DefaultStoreConfig()
	cfg.Location = time.UTC
	return cfg
}

func newTestStore(t *testing.T, cfg StoreConfig, fetcher integration.OrderFetcher, opts ...StoreOption) *Store {
	t.Helper()
	if fetcher == nil {
		fetcher = &stubFetcher{}
	}
	s, err := NewStore(uuid.New(), cfg, nil, fetcher, opts...)
	require.NoError(t, err)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func row(id, status string, updated time.Time) *integration.UnifiedRow {
	return &integration.UnifiedRow{
		ID:                 id,
		MarketplaceOrderID: "MP-" + id,
		Marketplace:        "mercado_livre",
		CustomerName:       "Cliente " + id,
		StatusInternal:     status,
		ShippingType:       "fulfillment",
		Items: []integration.RawItem{
			{ItemID: "MLB1", SKU: "SKU-" + id, Title: "Produto " + id, Quantity: 1, UnitPrice: "10.00"},
		},
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func rows(n int, status string) []integration.RawRow {
	out := make([]integration.RawRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, row(fmt.Sprintf("o-%03d", i), status, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func load(t *testing.T, s *Store, rs ...integration.RawRow) LoadResult {
	t.Helper()
	ticket, _ := s.BeginLoad(context.Background())
	res, err := s.ApplySnapshot(context.Background(), ticket, rs)
	require.NoError(t, err)
	return res
}
