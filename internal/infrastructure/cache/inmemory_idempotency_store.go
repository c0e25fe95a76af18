package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/fulfillment/internal/domain/shared"
)

const defaultSweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore remembers realtime event ids in process memory.
// It backs a single instance deployment: without Redis one process owns
// every tenant session, so local dedupe sees every redelivery.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// MemoryStoreOption configures an InMemoryIdempotencyStore
type MemoryStoreOption func(*memoryStoreOptions)

type memoryStoreOptions struct {
	sweep time.Duration
	now   func() time.Time
}

// WithSweepInterval sets how often expired ids are dropped. Zero disables
// the sweeper; expired ids are then only replaced when seen again.
func WithSweepInterval(d time.Duration) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.sweep = d }
}

// WithClock sets the time source
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.now = now }
}

// NewInMemoryIdempotencyStore creates the store and starts its sweeper
func NewInMemoryIdempotencyStore(opts ...MemoryStoreOption) *InMemoryIdempotencyStore {
	o := memoryStoreOptions{sweep: defaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	s := &InMemoryIdempotencyStore{
		expires: make(map[string]time.Time),
		now:     o.now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if o.sweep > 0 {
		go s.sweepLoop(o.sweep)
	} else {
		close(s.done)
	}
	return s
}

// MarkProcessed claims eventID for ttl. It reports false while an earlier
// claim is still live.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.expires[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[eventID] = now.Add(ttl)
	return true, nil
}

// IsProcessed reports whether eventID holds a live claim
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[eventID]
	return ok && now.Before(exp), nil
}

// Release drops the claim on eventID
func (s *InMemoryIdempotencyStore) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, eventID)
	return nil
}

// Close stops the sweeper. It is safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

// Len is the number of remembered ids, expired ones included until swept
func (s *InMemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

func (s *InMemoryIdempotencyStore) sweepLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep drops expired ids and returns how many were removed
func (s *InMemoryIdempotencyStore) sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, id)
			removed++
		}
	}
	return removed
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
