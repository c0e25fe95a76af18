package invoicing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
)

// MemoryRecordRepository keeps invoice records in process memory
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*invoicing.Record
}

// NewMemoryRecordRepository creates an empty repository
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{records: make(map[string]*invoicing.Record)}
}

func recordKey(tenantID uuid.UUID, env invoicing.Environment, orderID string) string {
	return tenantID.String() + "|" + string(env) + "|" + orderID
}

// Get implements invoicing.RecordRepository
func (r *MemoryRecordRepository) Get(ctx context.Context, tenantID uuid.UUID, env invoicing.Environment, orderID string) (*invoicing.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[recordKey(tenantID, env, orderID)]
	if !ok {
		return nil, shared.Wrap(shared.ErrNotFound, fmt.Sprintf("no invoice record for order %s", orderID), nil)
	}
	return rec.Clone(), nil
}

// Save implements invoicing.RecordRepository
func (r *MemoryRecordRepository) Save(ctx context.Context, record *invoicing.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[recordKey(record.TenantID, record.Environment, record.OrderID)] = record.Clone()
	return nil
}

// ListByStates implements invoicing.RecordRepository
func (r *MemoryRecordRepository) ListByStates(ctx context.Context, states ...invoicing.State) ([]*invoicing.Record, error) {
	want := make(map[invoicing.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*invoicing.Record, 0)
	for _, rec := range r.records {
		if want[rec.State] {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// LocalEmissionGuard is an in-process EmissionGuard for single-replica deployments
type LocalEmissionGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalEmissionGuard creates a local guard
func NewLocalEmissionGuard() *LocalEmissionGuard {
	return &LocalEmissionGuard{held: make(map[string]struct{})}
}

// Acquire implements invoicing.EmissionGuard
func (g *LocalEmissionGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return nil, invoicing.ErrEmissionInProgress
	}
	g.held[key] = struct{}{}
	return func(context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.held, key)
		return nil
	}, nil
}
