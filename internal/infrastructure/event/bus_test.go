package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testHandler struct {
	mu      sync.Mutex
	types   []string
	handled []shared.DomainEvent
	err     error
	panics  bool
}

func (h *testHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, ev)
	if h.panics {
		panic("boom")
	}
	return h.err
}

func (h *testHandler) EventTypes() []string { return h.types }

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func reloaded(tenant uuid.UUID) shared.DomainEvent {
	return fulfillment.NewOrdersReloadedEvent(tenant, 7, 120)
}

func rolledBack(tenant uuid.UUID) shared.DomainEvent {
	return fulfillment.NewMutationRolledBackEvent(tenant, "o-1", uuid.New(), "timeout")
}

func TestInMemoryEventBus_Routing(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(context.Background()))

	onReload := &testHandler{types: []string{fulfillment.EventTypeOrdersReloaded}}
	all := &testHandler{}
	bus.Subscribe(onReload)
	bus.Subscribe(all)

	tenant := uuid.New()
	require.NoError(t, bus.Publish(context.Background(), reloaded(tenant), rolledBack(tenant)))

	assert.Equal(t, 1, onReload.count())
	assert.Equal(t, 2, all.count())

	bus.Unsubscribe(onReload)
	require.NoError(t, bus.Publish(context.Background(), reloaded(tenant)))
	assert.Equal(t, 1, onReload.count())
	assert.Equal(t, 3, all.count())

	require.NoError(t, bus.Stop(context.Background()))
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	h := &testHandler{types: []string{fulfillment.EventTypeOrdersReloaded}}
	bus.Subscribe(h, fulfillment.EventTypeMutationRolledBack)

	tenant := uuid.New()
	require.NoError(t, bus.Publish(context.Background(), reloaded(tenant), rolledBack(tenant)))
	require.Equal(t, 1, h.count())
	assert.Equal(t, fulfillment.EventTypeMutationRolledBack, h.handled[0].EventType())
}

func TestInMemoryEventBus_FailingHandlersDoNotStopDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	failing := &testHandler{err: errors.New("handler error")}
	panicking := &testHandler{panics: true}
	healthy := &testHandler{}
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	err := bus.Publish(context.Background(), reloaded(uuid.New()))

	require.NoError(t, err)
	assert.Equal(t, 1, healthy.count())
	assert.Equal(t, int64(2), bus.Failures())
}

func TestHandlerRegistry_Unregister(t *testing.T) {
	r := NewHandlerRegistry()
	a := &testHandler{}
	b := &testHandler{}
	r.Register(a, "A", "B")
	r.Register(b, "A")
	r.Register(b)

	assert.Len(t, r.Handlers("A"), 3)
	r.Unregister(b)
	assert.Equal(t, []shared.EventHandler{a}, r.Handlers("A"))
	assert.Equal(t, []shared.EventHandler{a}, r.Handlers("B"))
	r.Unregister(a)
	assert.Empty(t, r.Handlers("A"))
}

func TestEventSerializer(t *testing.T) {
	s := NewEventSerializer()
	RegisterAllEvents(s)

	assert.Equal(t, []string{fulfillment.EventTypeMutationRolledBack, fulfillment.EventTypeOrdersReloaded}, s.RegisteredTypes())
	assert.False(t, s.IsRegistered("SalesOrderCreated"))

	tenant := uuid.New()
	original := fulfillment.NewOrdersReloadedEvent(tenant, 42, 300)
	data, err := s.Serialize(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":42`)

	decoded, err := s.Deserialize(fulfillment.EventTypeOrdersReloaded, data)
	require.NoError(t, err)
	ev, ok := decoded.(*fulfillment.OrdersReloadedEvent)
	require.True(t, ok)
	assert.Equal(t, original.EventID(), ev.EventID())
	assert.Equal(t, tenant, ev.TenantID())
	assert.Equal(t, 300, ev.Count)

	_, err = s.Deserialize("Unknown", data)
	assert.Error(t, err)
	_, err = s.Deserialize(fulfillment.EventTypeOrdersReloaded, []byte("{"))
	assert.Error(t, err)
}
