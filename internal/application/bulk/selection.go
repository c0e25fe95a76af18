package bulk

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/shared"
)

type tenantSelection struct {
	active fulfillment.Bucket
	sets   map[fulfillment.Bucket]map[string]struct{}
}

func newTenantSelection() *tenantSelection {
	return &tenantSelection{
		active: fulfillment.BucketAll,
		sets:   make(map[fulfillment.Bucket]map[string]struct{}),
	}
}

// Selections holds one selection set per bucket and tenant. A selection is
// cleared when the active bucket changes, when the orders are reloaded and
// when a bulk action completes.
type Selections struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*tenantSelection
}

// NewSelections creates an empty selection registry
func NewSelections() *Selections {
	return &Selections{tenants: make(map[uuid.UUID]*tenantSelection)}
}

func (s *Selections) tenant(id uuid.UUID) *tenantSelection {
	t, ok := s.tenants[id]
	if !ok {
		t = newTenantSelection()
		s.tenants[id] = t
	}
	return t
}

// ActiveBucket returns the tenant's active bucket
func (s *Selections) ActiveBucket(tenantID uuid.UUID) fulfillment.Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant(tenantID).active
}

// SetActiveBucket switches the active bucket, clearing the selection when it changes
func (s *Selections) SetActiveBucket(tenantID uuid.UUID, bucket fulfillment.Bucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if t.active == bucket {
		return
	}
	delete(t.sets, t.active)
	t.active = bucket
}

// Select adds orders to the active bucket's selection
func (s *Selections) Select(tenantID uuid.UUID, orderIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	set, ok := t.sets[t.active]
	if !ok {
		set = make(map[string]struct{})
		t.sets[t.active] = set
	}
	for _, id := range orderIDs {
		set[id] = struct{}{}
	}
}

// Deselect removes orders from the active bucket's selection
func (s *Selections) Deselect(tenantID uuid.UUID, orderIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	set := t.sets[t.active]
	for _, id := range orderIDs {
		delete(set, id)
	}
}

// Selected returns the active bucket's selection in sorted order
func (s *Selections) Selected(tenantID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	set := t.sets[t.active]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Prune drops selected orders that are no longer visible
func (s *Selections) Prune(tenantID uuid.UUID, visible []string) {
	keep := make(map[string]struct{}, len(visible))
	for _, id := range visible {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	for id := range t.sets[t.active] {
		if _, ok := keep[id]; !ok {
			delete(t.sets[t.active], id)
		}
	}
}

// Clear clears every selection of the tenant
func (s *Selections) Clear(tenantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant(tenantID).sets = make(map[fulfillment.Bucket]map[string]struct{})
}

// Handle clears the tenant's selection when its orders are reloaded
func (s *Selections) Handle(ctx context.Context, event shared.DomainEvent) error {
	if event.EventType() == fulfillment.EventTypeOrdersReloaded {
		s.Clear(event.TenantID())
	}
	return nil
}

// EventTypes implements shared.EventHandler
func (s *Selections) EventTypes() []string {
	return []string{fulfillment.EventTypeOrdersReloaded}
}
