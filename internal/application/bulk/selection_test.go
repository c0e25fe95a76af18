package bulk

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

func TestSelections_PerBucket(t *testing.T) {
	s := NewSelections()
	tenant := uuid.New()

	s.SetActiveBucket(tenant, fulfillment.BucketPrinting)
	s.Select(tenant, "b", "a", "a")
	assert.Equal(t, []string{"a", "b"}, s.Selected(tenant))

	s.Deselect(tenant, "b")
	assert.Equal(t, []string{"a"}, s.Selected(tenant))

	// same bucket keeps the selection
	s.SetActiveBucket(tenant, fulfillment.BucketPrinting)
	assert.Equal(t, []string{"a"}, s.Selected(tenant))

	s.SetActiveBucket(tenant, fulfillment.BucketShipped)
	assert.Empty(t, s.Selected(tenant))
	s.SetActiveBucket(tenant, fulfillment.BucketPrinting)
	assert.Empty(t, s.Selected(tenant), "switching away cleared the selection")
}

func TestSelections_TenantsAreIsolated(t *testing.T) {
	s := NewSelections()
	t1, t2 := uuid.New(), uuid.New()
	s.Select(t1, "a")
	s.Select(t2, "b")
	s.Clear(t1)
	assert.Empty(t, s.Selected(t1))
	assert.Equal(t, []string{"b"}, s.Selected(t2))
}

func TestSelections_Prune(t *testing.T) {
	s := NewSelections()
	tenant := uuid.New()
	s.Select(tenant, "a", "b", "c")
	s.Prune(tenant, []string{"c", "a", "z"})
	assert.Equal(t, []string{"a", "c"}, s.Selected(tenant))
}

func TestSelections_ClearedOnReload(t *testing.T) {
	s := NewSelections()
	tenant := uuid.New()
	s.Select(tenant, "a")

	require.NoError(t, s.Handle(context.Background(), fulfillment.NewMutationRolledBackEvent(tenant, "a", uuid.New(), "timeout")))
	assert.Equal(t, []string{"a"}, s.Selected(tenant))

	require.NoError(t, s.Handle(context.Background(), fulfillment.NewOrdersReloadedEvent(tenant, 7, 10)))
	assert.Empty(t, s.Selected(tenant))
	assert.Equal(t, []string{fulfillment.EventTypeOrdersReloaded}, s.EventTypes())
}
