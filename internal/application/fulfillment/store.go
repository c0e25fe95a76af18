package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
)

// ErrStoreStopped is returned by operations submitted to a stopped store
var ErrStoreStopped = errors.New("fulfillment: store is stopped")

// MutationToken identifies one optimistic mutation
type MutationToken struct {
	OrderID string
	ID      uuid.UUID
}

// LoadTicket is issued when a load starts. Only the latest ticket's
// response is ever applied.
type LoadTicket struct {
	RunID          uint64
	issuedEventSeq uint64
}

// LoadResult reports how a snapshot was merged
type LoadResult struct {
	RunID uint64
	// Applied counts snapshot orders now in the table
	Applied int
	// KeptNewer counts orders where the local version was newer than the snapshot
	KeptNewer int
	// Retained counts orders absent from the snapshot but changed by realtime after the load began
	Retained int
	// Skipped counts malformed rows
	Skipped int
}

type mutation struct {
	token     uuid.UUID
	patch     fulfillment.OrderPatch
	createdAt time.Time
	timer     *time.Timer
}

type entry struct {
	// server is the last confirmed version of the order
	server *fulfillment.Order
	// pending is the optimistic micro-log, applied in order over server
	pending      []*mutation
	seq          uint64
	lastEventSeq uint64
}

func (e *entry) observable() *fulfillment.Order {
	o := e.server
	for _, m := range e.pending {
		o = m.patch.Apply(o)
	}
	return o
}

type tombstone struct {
	version  time.Time
	eventSeq uint64
}

// view is an immutable read model published after every change
type view struct {
	orders           []*fulfillment.Order
	index            map[string]int
	marketplaceIndex map[string]string
	pending          map[string]int
}

// StoreOption configures optional store collaborators
type StoreOption func(*Store)

// WithIdempotencyStore deduplicates realtime events by event id
func WithIdempotencyStore(store shared.IdempotencyStore) StoreOption {
	return func(s *Store) { s.dedupe = store }
}

// WithEventPublisher publishes reload and rollback events
func WithEventPublisher(p shared.EventPublisher) StoreOption {
	return func(s *Store) { s.events = p }
}

// WithRecorder records reconciliation metrics
func WithRecorder(r Recorder) StoreOption {
	return func(s *Store) { s.metrics = r }
}

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is the reconciliation store of one tenant. It merges full reloads,
// realtime events and optimistic mutations into one order table. A single
// loop goroutine owns the table; reads go through an immutable view.
type Store struct {
	tenantID   uuid.UUID
	cfg        StoreConfig
	normalizer *Normalizer
	fetcher    integration.OrderFetcher
	dedupe     shared.IdempotencyStore
	events     shared.EventPublisher
	metrics    Recorder
	logger     *zap.Logger
	priority   fulfillment.ShippingPriority

	cmds    chan func() bool
	done    chan struct{}
	stopped chan struct{}
	// events raised on the loop are published by the dispatcher goroutine
	outbox       chan shared.DomainEvent
	dispatched   chan struct{}
	stopDispatch context.CancelFunc
	startOnce    sync.Once
	stopOnce     sync.Once

	current  atomic.Pointer[view]
	runSeq   atomic.Uint64
	eventSeq atomic.Uint64

	loadMu     sync.Mutex
	cancelLoad context.CancelFunc

	// owned by the loop goroutine
	entries    map[string]*entry
	tombstones map[string]tombstone
	tokens     map[uuid.UUID]string
	nextSeq    uint64
}

// NewStore creates a store for a tenant. Start must be called before use.
func NewStore(tenantID uuid.UUID, cfg StoreConfig, normalizer *Normalizer, fetcher integration.OrderFetcher, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		tenantID:   tenantID,
		cfg:        cfg,
		normalizer: normalizer,
		fetcher:    fetcher,
		metrics:    NopRecorder{},
		logger:     zap.NewNop(),
		priority:   fulfillment.NewShippingPriority(cfg.ShippingPriority),
		cmds:       make(chan func() bool, cfg.EventBuffer),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		outbox:     make(chan shared.DomainEvent, cfg.EventBuffer),
		dispatched: make(chan struct{}),
		entries:    make(map[string]*entry),
		tombstones: make(map[string]tombstone),
		tokens:     make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.normalizer == nil {
		s.normalizer = NewNormalizer(cfg.Location, s.metrics, s.logger)
	}
	s.logger = s.logger.With(zap.String("tenant_id", tenantID.String()))
	s.current.Store(&view{
		index:            map[string]int{},
		marketplaceIndex: map[string]string{},
		pending:          map[string]int{},
	})
	return s, nil
}

// TenantID returns the tenant this store belongs to
func (s *Store) TenantID() uuid.UUID {
	return s.tenantID
}

// Start starts the reconciliation loop and the event dispatcher
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		dispatchCtx, cancel := context.WithCancel(ctx)
		s.stopDispatch = cancel
		go s.run(ctx)
		go s.dispatch(dispatchCtx)
	})
}

// Stop stops the loop and cancels pending rollback timers
func (s *Store) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	// a store that never started has no goroutines to close these
	s.startOnce.Do(func() {
		close(s.stopped)
		close(s.dispatched)
	})
	if s.stopDispatch != nil {
		s.stopDispatch()
	}
	s.loadMu.Lock()
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.loadMu.Unlock()

	for _, ch := range []chan struct{}{s.stopped, s.dispatched} {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Store) run(ctx context.Context) {
	defer close(s.stopped)
	defer s.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case cmd := <-s.cmds:
			if cmd() {
				s.publishView()
			}
		}
	}
}

func (s *Store) shutdown() {
	for _, e := range s.entries {
		for _, m := range e.pending {
			m.timer.Stop()
		}
	}
}

// exec runs fn on the loop and waits for it to finish. The view is
// republished before exec returns, so callers read their own writes.
func (s *Store) exec(ctx context.Context, fn func() bool) error {
	finished := make(chan struct{})
	cmd := func() bool {
		defer close(finished)
		if fn() {
			s.publishView()
		}
		return false
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStoreStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStoreStopped
	}
}

// enqueue submits fn without waiting for it
func (s *Store) enqueue(fn func() bool) {
	select {
	case s.cmds <- fn:
	case <-s.stopped:
	}
}

func (s *Store) publishView() {
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	v := &view{
		orders:           make([]*fulfillment.Order, 0, len(list)),
		index:            make(map[string]int, len(list)),
		marketplaceIndex: make(map[string]string, len(list)),
		pending:          make(map[string]int),
	}
	for _, e := range list {
		o := e.observable()
		v.index[o.ID] = len(v.orders)
		v.orders = append(v.orders, o)
		if o.MarketplaceOrderID != "" {
			v.marketplaceIndex[o.MarketplaceOrderID] = o.ID
		}
		if len(e.pending) > 0 {
			v.pending[o.ID] = len(e.pending)
		}
	}
	s.current.Store(v)
}

// ---------------------------------------------------------------------------
// Full reloads
// ---------------------------------------------------------------------------

// BeginLoad issues a new run id and supersedes any load in flight: the
// previous load's context is cancelled and its response will be discarded.
func (s *Store) BeginLoad(ctx context.Context) (LoadTicket, context.Context) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	return LoadTicket{
		RunID:          s.runSeq.Add(1),
		issuedEventSeq: s.eventSeq.Load(),
	}, loadCtx
}

func (s *Store) finishLoad(runID uint64) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.runSeq.Load() == runID && s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
}

func (s *Store) isLatest(runID uint64) bool {
	return s.runSeq.Load() == runID
}

// Reload fetches a full snapshot and merges it. On failure the table is left
// untouched. A load superseded by a newer one returns ErrAbortedBySupersession.
func (s *Store) Reload(ctx context.Context, filter integration.OrderFilter) (LoadResult, error) {
	ticket, loadCtx := s.BeginLoad(ctx)
	defer s.finishLoad(ticket.RunID)

	log := logger.FromContext(ctx, s.logger).With(zap.Uint64("run_id", ticket.RunID))
	filter.TenantID = s.tenantID

	rows, err := s.fetcher.FetchOrders(loadCtx, filter)
	if err != nil {
		if !s.isLatest(ticket.RunID) {
			log.Debug("reload superseded by a newer request", zap.Error(err))
			return LoadResult{RunID: ticket.RunID}, shared.Wrap(shared.ErrAbortedBySupersession, "", err)
		}
		log.Error("reload failed, keeping current orders", zap.Error(err))
		if shared.ErrorCode(err) != "" {
			return LoadResult{RunID: ticket.RunID}, err
		}
		return LoadResult{RunID: ticket.RunID}, shared.Wrap(shared.ErrTransientNetwork, "order reload failed", err)
	}
	return s.ApplySnapshot(ctx, ticket, rows)
}

// ApplySnapshot merges the response of the load identified by ticket. A
// response whose run id is no longer the latest is discarded.
func (s *Store) ApplySnapshot(ctx context.Context, ticket LoadTicket, rows []integration.RawRow) (LoadResult, error) {
	log := logger.FromContext(ctx, s.logger).With(zap.Uint64("run_id", ticket.RunID))
	if !s.isLatest(ticket.RunID) {
		return s.discardStale(ctx, log, ticket)
	}

	orders, skipped := s.normalizer.NormalizeBatch(ctx, rows)

	var result LoadResult
	stale := false
	err := s.exec(ctx, func() bool {
		if !s.isLatest(ticket.RunID) {
			stale = true
			return false
		}
		result = s.mergeSnapshot(orders, ticket.issuedEventSeq)
		return true
	})
	if err != nil {
		return LoadResult{RunID: ticket.RunID}, err
	}
	if stale {
		return s.discardStale(ctx, log, ticket)
	}

	result.RunID = ticket.RunID
	result.Skipped = skipped
	log.Info("orders reloaded",
		zap.Int("applied", result.Applied),
		zap.Int("kept_newer", result.KeptNewer),
		zap.Int("retained", result.Retained),
		zap.Int("skipped", result.Skipped),
	)
	s.publish(ctx, fulfillment.NewOrdersReloadedEvent(s.tenantID, ticket.RunID, result.Applied+result.Retained))
	return result, nil
}

func (s *Store) discardStale(ctx context.Context, log *zap.Logger, ticket LoadTicket) (LoadResult, error) {
	s.metrics.StaleRunDiscarded(ctx)
	log.Debug("discarding stale load response", zap.Uint64("latest_run_id", s.runSeq.Load()))
	return LoadResult{RunID: ticket.RunID}, shared.Wrap(shared.ErrAbortedBySupersession,
		fmt.Sprintf("run %d superseded", ticket.RunID), nil)
}

// mergeSnapshot runs on the loop. A snapshot order replaces the current one
// unless the current version is newer. Pending mutations survive. Orders
// missing from the snapshot survive only if realtime touched them after the
// load was issued.
func (s *Store) mergeSnapshot(orders []*fulfillment.Order, issuedEventSeq uint64) LoadResult {
	var result LoadResult
	next := make(map[string]*entry, len(orders))
	var seq uint64

	for _, o := range orders {
		if _, dup := next[o.ID]; dup {
			continue
		}
		if tb, ok := s.tombstones[o.ID]; ok && tb.eventSeq > issuedEventSeq {
			continue
		}
		e := s.entries[o.ID]
		if e == nil {
			e = &entry{server: o}
		} else if e.server.IsNewerThan(o) {
			result.KeptNewer++
		} else {
			prev := e.server
			e.server = o
			if o.IsNewerThan(prev) {
				s.confirmPending(e, o)
			}
		}
		seq++
		e.seq = seq
		next[o.ID] = e
		result.Applied++
	}

	retained := make([]*entry, 0)
	for id, e := range s.entries {
		if _, ok := next[id]; ok {
			continue
		}
		if e.lastEventSeq > issuedEventSeq {
			retained = append(retained, e)
			continue
		}
		s.dropEntry(e)
	}
	sort.Slice(retained, func(i, j int) bool { return retained[i].seq < retained[j].seq })
	for _, e := range retained {
		seq++
		e.seq = seq
		next[e.server.ID] = e
		result.Retained++
	}

	for id, tb := range s.tombstones {
		if tb.eventSeq <= issuedEventSeq {
			delete(s.tombstones, id)
		}
	}
	s.entries = next
	s.nextSeq = seq
	return result
}

func (s *Store) dropEntry(e *entry) {
	for _, m := range e.pending {
		m.timer.Stop()
		delete(s.tokens, m.token)
	}
	e.pending = nil
}

// confirmPending confirms every pending mutation the server version reflects
func (s *Store) confirmPending(e *entry, server *fulfillment.Order) {
	kept := e.pending[:0]
	for _, m := range e.pending {
		if m.patch.ConfirmedBy(server) {
			m.timer.Stop()
			delete(s.tokens, m.token)
			s.logger.Debug("optimistic mutation confirmed by server",
				zap.String("order_id", server.ID),
				zap.String("token", m.token.String()),
			)
			continue
		}
		kept = append(kept, m)
	}
	e.pending = kept
}

// ---------------------------------------------------------------------------
// Realtime events
// ---------------------------------------------------------------------------

// ApplyRealtimeEvent upserts or removes one order. Redelivery of an event is a
// no-op: events with an id are deduplicated, and the version rule makes
// re-applying the same version leave the same state.
func (s *Store) ApplyRealtimeEvent(ctx context.Context, ev integration.OrderEvent) (string, error) {
	log := logger.FromContext(ctx, s.logger).With(
		zap.String("event_id", ev.ID),
		zap.String("order_id", ev.OrderID),
		zap.String("kind", string(ev.Kind)),
	)
	if !ev.Kind.IsValid() {
		s.metrics.RealtimeEvent(ctx, OutcomeRejected)
		return OutcomeRejected, shared.Wrap(shared.ErrInvalidInput, fmt.Sprintf("unknown event kind %q", ev.Kind), nil)
	}

	var claimed string
	if ev.ID != "" && s.dedupe != nil {
		key := s.tenantID.String() + ":" + ev.ID
		fresh, err := s.dedupe.MarkProcessed(ctx, key, s.cfg.DedupeTTL)
		switch {
		case err != nil:
			log.Warn("event dedupe unavailable, relying on version check", zap.Error(err))
		case fresh:
			claimed = key
		default:
			s.metrics.RealtimeEvent(ctx, OutcomeDuplicate)
			log.Debug("duplicate realtime event ignored")
			return OutcomeDuplicate, nil
		}
	}

	var order *fulfillment.Order
	if ev.Kind != integration.EventDelete {
		var err error
		if ev.Partial {
			order, err = s.normalizer.NormalizePartial(ev.Row, ev.OrderID)
		} else {
			order, err = s.normalizer.Normalize(ev.Row)
		}
		if err != nil {
			s.metrics.RealtimeEvent(ctx, OutcomeRejected)
			s.normalizer.reportFailure(ctx, ev.Row, err)
			return OutcomeRejected, err
		}
	}

	outcome := OutcomeIgnored
	err := s.exec(ctx, func() bool {
		outcome = s.applyEvent(ev, order)
		return outcome == OutcomeApplied
	})
	if err != nil {
		if claimed != "" {
			if rerr := s.dedupe.Release(context.WithoutCancel(ctx), claimed); rerr != nil {
				log.Warn("failed to release event mark", zap.Error(rerr))
			}
		}
		return "", err
	}
	s.metrics.RealtimeEvent(ctx, outcome)
	log.Debug("realtime event processed", zap.String("outcome", outcome))
	return outcome, nil
}

func (s *Store) applyEvent(ev integration.OrderEvent, o *fulfillment.Order) string {
	id := ev.OrderID
	if o != nil && o.ID != "" {
		id = o.ID
	}
	seq := s.eventSeq.Add(1)

	e := s.entries[id]
	if ev.Kind == integration.EventDelete {
		var version time.Time
		if e != nil {
			version = e.server.UpdatedAt
			s.dropEntry(e)
			delete(s.entries, id)
		}
		s.tombstones[id] = tombstone{version: version, eventSeq: seq}
		if e == nil {
			return OutcomeIgnored
		}
		return OutcomeApplied
	}

	if e == nil {
		if ev.Partial && ev.Kind == integration.EventUpdate {
			return OutcomeIgnored
		}
		if tb, ok := s.tombstones[id]; ok && !o.UpdatedAt.After(tb.version) {
			return OutcomeStale
		}
		delete(s.tombstones, id)
		s.nextSeq++
		s.entries[id] = &entry{server: o, seq: s.nextSeq, lastEventSeq: seq}
		return OutcomeApplied
	}

	if !o.UpdatedAt.IsZero() && o.UpdatedAt.Before(e.server.UpdatedAt) {
		return OutcomeStale
	}
	next := o
	if ev.Partial {
		next = e.server.MergePartial(o)
	}
	newer := next.IsNewerThan(e.server)
	e.server = next
	e.lastEventSeq = seq
	if newer {
		s.confirmPending(e, next)
	}
	return OutcomeApplied
}

// ---------------------------------------------------------------------------
// Optimistic mutations
// ---------------------------------------------------------------------------

// ApplyOptimisticMutation applies a local-only change immediately. It is
// rolled back unless a server version reflecting it, or an explicit
// confirmation, arrives within the optimistic window.
func (s *Store) ApplyOptimisticMutation(ctx context.Context, orderID string, patch fulfillment.OrderPatch) (MutationToken, error) {
	if patch.IsEmpty() {
		return MutationToken{}, shared.Wrap(shared.ErrInvalidInput, "empty order patch", nil)
	}
	token := MutationToken{OrderID: orderID, ID: uuid.New()}
	found := false
	err := s.exec(ctx, func() bool {
		e := s.entries[orderID]
		if e == nil {
			return false
		}
		found = true
		m := &mutation{token: token.ID, patch: patch, createdAt: time.Now()}
		m.timer = time.AfterFunc(s.cfg.OptimisticTimeout, func() {
			s.enqueue(func() bool {
				return s.rollback(token, "confirmation timed out")
			})
		})
		e.pending = append(e.pending, m)
		s.tokens[token.ID] = orderID
		return true
	})
	if err != nil {
		return MutationToken{}, err
	}
	if !found {
		return MutationToken{}, shared.Wrap(shared.ErrNotFound, fmt.Sprintf("order %s not loaded", orderID), nil)
	}
	logger.FromContext(ctx, s.logger).Debug("optimistic mutation applied",
		zap.String("order_id", orderID),
		zap.String("token", token.ID.String()),
	)
	return token, nil
}

// RollbackMutation reverts a pending mutation after an explicit failure.
// Returns false when the mutation was already resolved.
func (s *Store) RollbackMutation(ctx context.Context, token MutationToken, reason string) (bool, error) {
	rolledBack := false
	err := s.exec(ctx, func() bool {
		rolledBack = s.rollback(token, reason)
		return rolledBack
	})
	return rolledBack, err
}

// ConfirmMutation folds a pending mutation into the confirmed order after an
// explicit success response. Returns false when it was already resolved.
func (s *Store) ConfirmMutation(ctx context.Context, token MutationToken) (bool, error) {
	confirmed := false
	err := s.exec(ctx, func() bool {
		e, m, idx := s.findMutation(token)
		if m == nil {
			return false
		}
		m.timer.Stop()
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		delete(s.tokens, token.ID)
		e.server = m.patch.Apply(e.server)
		confirmed = true
		return true
	})
	return confirmed, err
}

func (s *Store) findMutation(token MutationToken) (*entry, *mutation, int) {
	orderID, ok := s.tokens[token.ID]
	if !ok {
		return nil, nil, -1
	}
	e := s.entries[orderID]
	if e == nil {
		return nil, nil, -1
	}
	for i, m := range e.pending {
		if m.token == token.ID {
			return e, m, i
		}
	}
	return nil, nil, -1
}

// rollback runs on the loop
func (s *Store) rollback(token MutationToken, reason string) bool {
	e, m, idx := s.findMutation(token)
	if m == nil {
		return false
	}
	m.timer.Stop()
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	delete(s.tokens, token.ID)

	ctx := context.Background()
	s.metrics.OptimisticRolledBack(ctx)
	s.logger.Info("optimistic mutation rolled back",
		zap.String("order_id", token.OrderID),
		zap.String("token", token.ID.String()),
		zap.String("reason", reason),
		zap.Duration("age", time.Since(m.createdAt)),
	)
	s.raise(fulfillment.NewMutationRolledBackEvent(s.tenantID, token.OrderID, token.ID, reason))
	return true
}

// raise hands an event to the dispatcher without blocking the loop. Events
// are dropped when the outbox is full.
func (s *Store) raise(event shared.DomainEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.outbox <- event:
	default:
		s.logger.Warn("event outbox full, dropping event", zap.String("event_type", event.EventType()))
	}
}

func (s *Store) dispatch(ctx context.Context) {
	defer close(s.dispatched)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.outbox:
			s.publish(ctx, event)
		}
	}
}

func (s *Store) publish(ctx context.Context, event shared.DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get returns the observable order (confirmed state with pending mutations applied).
// The returned order must not be modified.
func (s *Store) Get(id string) (*fulfillment.Order, bool) {
	v := s.current.Load()
	i, ok := v.index[id]
	if !ok {
		return nil, false
	}
	return v.orders[i], true
}

// Resolve maps an order id or a marketplace order id to the order id
func (s *Store) Resolve(key string) (string, bool) {
	v := s.current.Load()
	if _, ok := v.index[key]; ok {
		return key, true
	}
	id, ok := v.marketplaceIndex[key]
	return id, ok
}

// PendingMutations returns the number of unconfirmed mutations of an order
func (s *Store) PendingMutations(id string) int {
	return s.current.Load().pending[id]
}

// Len returns the number of orders in the table
func (s *Store) Len() int {
	return len(s.current.Load().orders)
}
