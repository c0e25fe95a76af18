package fulfillment

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/shared"
)

// ErrSessionManagerClosed is returned when opening a session after Close
var ErrSessionManagerClosed = errors.New("fulfillment: session manager closed")

type session struct {
	store  *Store
	cancel context.CancelFunc
	done   chan struct{}
	// ready is closed once the initial load finished, successfully or not
	ready chan struct{}
}

// SessionManager owns one store per tenant. Opening a tenant starts its
// reconciliation loop, loads the initial snapshot and subscribes once to the
// realtime stream.
type SessionManager struct {
	cfg        StoreConfig
	normalizer *Normalizer
	fetcher    integration.OrderFetcher
	subscriber integration.OrderSubscriber
	opts       []StoreOption
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	closed   bool
}

// NewSessionManager creates a session manager. subscriber may be nil, in
// which case stores only change through reloads and local mutations.
func NewSessionManager(
	cfg StoreConfig,
	normalizer *Normalizer,
	fetcher integration.OrderFetcher,
	subscriber integration.OrderSubscriber,
	logger *zap.Logger,
	opts ...StoreOption,
) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:        cfg,
		normalizer: normalizer,
		fetcher:    fetcher,
		subscriber: subscriber,
		opts:       append([]StoreOption{WithLogger(logger)}, opts...),
		logger:     logger,
		sessions:   make(map[uuid.UUID]*session),
	}
}

// Open returns the tenant's store, creating and loading it on first use.
// Concurrent callers wait for the initial load. A failed initial load is
// logged and the session stays open with an empty table.
func (m *SessionManager) Open(ctx context.Context, tenantID uuid.UUID) (*Store, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSessionManagerClosed
	}
	if s, ok := m.sessions[tenantID]; ok {
		m.mu.Unlock()
		select {
		case <-s.ready:
			return s.store, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	store, err := NewStore(tenantID, m.cfg, m.normalizer, m.fetcher, m.opts...)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	store.Start(runCtx)
	sess := &session{store: store, cancel: cancel, done: make(chan struct{}), ready: make(chan struct{})}
	defer close(sess.ready)
	m.sessions[tenantID] = sess
	m.mu.Unlock()

	log := m.logger.With(zap.String("tenant_id", tenantID.String()))
	if m.subscriber != nil {
		pump := NewRealtimePump(store, m.subscriber, m.logger)
		pump.OnResubscribe = func(ctx context.Context) {
			if _, err := store.Reload(ctx, integration.OrderFilter{}); err != nil && shared.IsUserVisible(err) {
				log.Warn("reload after resubscribe failed", zap.Error(err))
			}
		}
		go func() {
			defer close(sess.done)
			pump.Run(runCtx)
		}()
	} else {
		close(sess.done)
	}

	if _, err := store.Reload(ctx, integration.OrderFilter{}); err != nil && shared.IsUserVisible(err) {
		log.Warn("initial order load failed", zap.Error(err))
	}
	log.Info("tenant session opened", zap.Int("orders", store.Len()))
	return store, nil
}

// Get returns the tenant's store if a session is open
func (m *SessionManager) Get(tenantID uuid.UUID) (*Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID]
	if !ok {
		return nil, false
	}
	return s.store, true
}

// Tenants returns the tenants with an open session
func (m *SessionManager) Tenants() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every session
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		s.cancel()
		if err := s.store.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		select {
		case <-s.done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	return errors.Join(errs...)
}
