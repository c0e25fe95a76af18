package invoicing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
)

// Session scopes invoicing calls to one tenant and the configured environment
type Session struct {
	TenantID    uuid.UUID
	Environment invoicing.Environment
}

// Validate validates the session
func (s Session) Validate() error {
	if s.TenantID == uuid.Nil {
		return shared.Wrap(shared.ErrInvalidInput, "tenant id is required", nil)
	}
	if !s.Environment.IsValid() {
		return shared.Wrap(shared.ErrInvalidInput, fmt.Sprintf("unknown environment %q", s.Environment), nil)
	}
	return nil
}

// OrderStore is the part of the reconciliation store the orchestrator drives
type OrderStore interface {
	Resolve(key string) (string, bool)
	Get(id string) (*fulfillment.Order, bool)
	ApplyOptimisticMutation(ctx context.Context, orderID string, patch fulfillment.OrderPatch) (appfulfillment.MutationToken, error)
	RollbackMutation(ctx context.Context, token appfulfillment.MutationToken, reason string) (bool, error)
	ConfirmMutation(ctx context.Context, token appfulfillment.MutationToken) (bool, error)
}

// StoreLocator returns the open store of a tenant
type StoreLocator func(tenantID uuid.UUID) (OrderStore, bool)

// SessionStores locates stores through a session manager
func SessionStores(m *appfulfillment.SessionManager) StoreLocator {
	return func(tenantID uuid.UUID) (OrderStore, bool) {
		s, ok := m.Get(tenantID)
		if !ok {
			return nil, false
		}
		return s, true
	}
}

// EmissionQueue accepts emission jobs for asynchronous execution
type EmissionQueue interface {
	SubmitJob(job *invoicing.EmissionJob) error
}

// Recorder receives emission metrics
type Recorder interface {
	EmissionSubmitted(ctx context.Context, env string, count int)
	EmissionFailed(ctx context.Context, env string, code string)
}

type nopRecorder struct{}

func (nopRecorder) EmissionSubmitted(context.Context, string, int) {}
func (nopRecorder) EmissionFailed(context.Context, string, string) {}

// OrderResult is the per-order outcome of an invoicing operation
type OrderResult struct {
	Key         string
	OrderID     string
	DocumentRef string
	State       invoicing.State
	// AlreadySent is set when an XML upload was a no-op
	AlreadySent bool
	Err         error
}

// OK reports whether the operation succeeded for this order
func (r OrderResult) OK() bool {
	return r.Err == nil
}

// Config configures the orchestrator
type Config struct {
	// MaxRetries bounds the retries of a job that fails transiently
	MaxRetries int
	// GuardTimeout bounds how long a worker waits for the emission lock
	GuardTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration
func DefaultConfig() Config {
	return Config{MaxRetries: 3, GuardTimeout: 5 * time.Second}
}

// Option configures optional collaborators
type Option func(*Orchestrator)

// WithGuard sets the emission guard
func WithGuard(g invoicing.EmissionGuard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator drives the fiscal document lifecycle. It owns invoice records
// and requests order changes only through the reconciliation store.
type Orchestrator struct {
	cfg     Config
	service invoicing.Service
	records invoicing.RecordRepository
	queue   EmissionQueue
	stores  StoreLocator
	guard   invoicing.EmissionGuard
	metrics Recorder
	logger  *zap.Logger

	mu     sync.Mutex
	tokens map[string]appfulfillment.MutationToken
}

// NewOrchestrator creates an orchestrator. queue may be set later with SetQueue
// when the queue itself depends on the orchestrator.
func NewOrchestrator(cfg Config, service invoicing.Service, records invoicing.RecordRepository, queue EmissionQueue, stores StoreLocator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		service: service,
		records: records,
		queue:   queue,
		stores:  stores,
		guard:   NewLocalEmissionGuard(),
		metrics: nopRecorder{},
		logger:  zap.NewNop(),
		tokens:  make(map[string]appfulfillment.MutationToken),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.stores == nil {
		o.stores = func(uuid.UUID) (OrderStore, bool) { return nil, false }
	}
	return o
}

// SetQueue sets the emission queue
func (o *Orchestrator) SetQueue(q EmissionQueue) {
	o.queue = q
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// RequestEmission queues one emission job for the batch and marks the queued
// orders as processing in the store right away. It never waits for the
// invoicing service. Failures are reported per order.
func (o *Orchestrator) RequestEmission(ctx context.Context, sess Session, keys []string, opts invoicing.EmitOptions) ([]OrderResult, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if o.queue == nil {
		return nil, shared.Wrap(shared.ErrServiceUnavailable, "emission queue not configured", nil)
	}
	log := logger.FromContext(ctx, o.logger).With(
		zap.String("tenant_id", sess.TenantID.String()),
		zap.String("environment", string(sess.Environment)),
	)
	store, _ := o.stores(sess.TenantID)

	results := make([]OrderResult, len(keys))
	previous := make(map[string]*invoicing.Record)
	queued := make([]int, 0, len(keys))
	for i, key := range keys {
		res := OrderResult{Key: key}
		orderID, marketplaceID := o.resolve(store, key)
		res.OrderID = orderID

		rec, err := o.records.Get(ctx, sess.TenantID, sess.Environment, orderID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			rec = invoicing.NewRecord(sess.TenantID, sess.Environment, orderID, marketplaceID)
		case err != nil:
			res.Err = err
			results[i] = res
			continue
		}
		prev := rec.Clone()

		if err := rec.Queue(opts); err != nil {
			res.Err = err
			res.State = rec.State
			results[i] = res
			continue
		}
		if err := o.records.Save(ctx, rec); err != nil {
			res.Err = err
			results[i] = res
			continue
		}
		previous[orderID] = prev
		res.DocumentRef = rec.DocumentRef
		res.State = rec.State
		results[i] = res
		queued = append(queued, i)
	}

	if len(queued) == 0 {
		return results, nil
	}

	orderIDs := make([]string, 0, len(queued))
	for _, i := range queued {
		orderIDs = append(orderIDs, results[i].OrderID)
	}
	job := invoicing.NewEmissionJob(sess.TenantID, sess.Environment, orderIDs, opts, o.cfg.MaxRetries)
	if err := o.queue.SubmitJob(job); err != nil {
		log.Error("failed to enqueue emission job", zap.Error(err))
		qerr := shared.Wrap(shared.ErrServiceUnavailable, "emission queue unavailable", err)
		for _, i := range queued {
			if rerr := o.records.Save(ctx, previous[results[i].OrderID]); rerr != nil {
				log.Warn("failed to restore invoice record", zap.String("order_id", results[i].OrderID), zap.Error(rerr))
			}
			results[i].Err = qerr
			results[i].State = previous[results[i].OrderID].State
		}
		return results, nil
	}

	if store != nil {
		for _, i := range queued {
			o.markProcessing(ctx, log, store, sess, results[i].OrderID)
		}
	}
	log.Info("emission job queued",
		zap.String("job_id", job.ID.String()),
		zap.Int("orders", len(orderIDs)),
		zap.Bool("force_new_number", opts.ForceNewNumber),
		zap.Bool("force_new_ref", opts.ForceNewRef),
	)
	return results, nil
}

func (o *Orchestrator) resolve(store OrderStore, key string) (orderID, marketplaceID string) {
	if store == nil {
		return key, ""
	}
	id, ok := store.Resolve(key)
	if !ok {
		return key, ""
	}
	if order, ok := store.Get(id); ok {
		return id, order.MarketplaceOrderID
	}
	return id, ""
}

func (o *Orchestrator) markProcessing(ctx context.Context, log *zap.Logger, store OrderStore, sess Session, orderID string) {
	tok, err := store.ApplyOptimisticMutation(ctx, orderID, fulfillment.InvoiceStatePatch(string(invoicing.StateProcessing)))
	if err != nil {
		// the order may not be loaded in this session; the record is still queued
		log.Debug("optimistic processing mark skipped", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	o.mu.Lock()
	o.tokens[recordKey(sess.TenantID, sess.Environment, orderID)] = tok
	o.mu.Unlock()
}

func (o *Orchestrator) takeToken(sess Session, orderID string) (appfulfillment.MutationToken, bool) {
	key := recordKey(sess.TenantID, sess.Environment, orderID)
	o.mu.Lock()
	defer o.mu.Unlock()
	tok, ok := o.tokens[key]
	if ok {
		delete(o.tokens, key)
	}
	return tok, ok
}

// settle confirms or rolls back the optimistic processing mark of an order
func (o *Orchestrator) settle(ctx context.Context, sess Session, orderID string, failure string) {
	tok, ok := o.takeToken(sess, orderID)
	if !ok {
		return
	}
	store, ok := o.stores(sess.TenantID)
	if !ok {
		return
	}
	if failure != "" {
		_, _ = store.RollbackMutation(ctx, tok, failure)
		return
	}
	_, _ = store.ConfirmMutation(ctx, tok)
}

// ExecuteEmission runs one emission job against the invoicing service. A
// transient failure returns the records to the queue and returns the error so
// the job is retried. Other failures are recorded per order.
func (o *Orchestrator) ExecuteEmission(ctx context.Context, job *invoicing.EmissionJob) error {
	sess := Session{TenantID: job.TenantID, Environment: job.Environment}
	env := string(job.Environment)
	log := logger.FromContext(ctx, o.logger).With(
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("environment", env),
	)

	rejected := make(map[string]string)
	records := make(map[string]*invoicing.Record, len(job.OrderIDs))
	docs := make([]invoicing.EmitDocument, 0, len(job.OrderIDs))
	var releases []func(context.Context) error
	defer func() {
		for _, release := range releases {
			_ = release(context.Background())
		}
	}()

	for _, orderID := range job.OrderIDs {
		lockCtx, cancel := context.WithTimeout(ctx, o.cfg.GuardTimeout)
		release, err := o.guard.Acquire(lockCtx, invoicing.GuardKey(job.TenantID, job.Environment, orderID))
		cancel()
		if err != nil {
			rejected[orderID] = o.abandon(ctx, log, job, orderID, nil, "emission guard unavailable: "+err.Error())
			continue
		}
		releases = append(releases, release)

		rec, err := o.records.Get(ctx, job.TenantID, job.Environment, orderID)
		if err != nil {
			rejected[orderID] = err.Error()
			continue
		}
		if rec.State == invoicing.StateProcessing {
			// a retried job finds records it already submitted
			rec.Requeue()
		}
		if err := rec.StartProcessing(); err != nil {
			rejected[orderID] = err.Error()
			continue
		}
		if err := o.records.Save(ctx, rec); err != nil {
			rejected[orderID] = o.abandon(ctx, log, job, orderID, nil, "failed to save invoice record: "+err.Error())
			continue
		}
		records[orderID] = rec
		docs = append(docs, invoicing.EmitDocument{OrderID: orderID, DocumentRef: rec.DocumentRef})
	}

	if len(docs) == 0 {
		job.Complete(nil, rejected)
		for orderID, msg := range rejected {
			o.settle(ctx, sess, orderID, msg)
		}
		return nil
	}

	result, err := o.service.Emit(ctx, invoicing.EmitRequest{
		TenantID:       job.TenantID,
		Environment:    job.Environment,
		Documents:      docs,
		ForceNewNumber: job.Options.ForceNewNumber,
		ForceNewRef:    job.Options.ForceNewRef,
	})
	if err != nil {
		o.metrics.EmissionFailed(ctx, env, shared.ErrorCode(err))
		if shared.IsRetryable(err) && job.RetryCount < job.MaxRetries {
			for _, rec := range records {
				rec.Requeue()
				if serr := o.records.Save(ctx, rec); serr != nil {
					log.Warn("failed to requeue invoice record", zap.String("order_id", rec.OrderID), zap.Error(serr))
				}
			}
			log.Warn("emission failed transiently, will retry", zap.Int("retry_count", job.RetryCount), zap.Error(err))
			return err
		}
		log.Error("emission failed", zap.Error(err))
		for orderID, rec := range records {
			rec.Fail(err.Error())
			if serr := o.records.Save(ctx, rec); serr != nil {
				log.Warn("failed to save invoice record", zap.String("order_id", orderID), zap.Error(serr))
			}
			rejected[orderID] = rec.ErrorMessage
		}
		job.Complete(nil, rejected)
		for orderID, msg := range rejected {
			o.settle(ctx, sess, orderID, msg)
		}
		return nil
	}

	accepted := make([]string, 0, len(records))
	for orderID, rec := range records {
		msg, isRejected := result.Rejected[orderID]
		if !isRejected {
			accepted = append(accepted, orderID)
			o.settle(ctx, sess, orderID, "")
			continue
		}
		rec.Fail(msg)
		if serr := o.records.Save(ctx, rec); serr != nil {
			log.Warn("failed to save invoice record", zap.String("order_id", orderID), zap.Error(serr))
		}
		rejected[orderID] = rec.ErrorMessage
		o.metrics.EmissionFailed(ctx, env, shared.ErrValidation.Code)
	}
	for orderID, msg := range rejected {
		o.settle(ctx, sess, orderID, msg)
	}
	sort.Strings(accepted)
	job.Complete(accepted, rejected)
	o.metrics.EmissionSubmitted(ctx, env, len(accepted))
	log.Info("emission submitted",
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)),
	)
	return nil
}

// abandon fails the record of an order that will not be submitted by this
// job, so it leaves Queued and can be reissued. rec may be nil, in which case
// the record is reloaded; only a record still Queued is touched.
func (o *Orchestrator) abandon(ctx context.Context, log *zap.Logger, job *invoicing.EmissionJob, orderID string, rec *invoicing.Record, reason string) string {
	if rec == nil {
		var err error
		rec, err = o.records.Get(ctx, job.TenantID, job.Environment, orderID)
		if err != nil {
			log.Warn("failed to load abandoned invoice record", zap.String("order_id", orderID), zap.Error(err))
			return reason
		}
	}
	if rec.State != invoicing.StateQueued {
		return reason
	}
	rec.Fail(reason)
	if err := o.records.Save(ctx, rec); err != nil {
		log.Warn("failed to save abandoned invoice record", zap.String("order_id", orderID), zap.Error(err))
	}
	return rec.ErrorMessage
}

// AbandonEmission settles the orders of a job that will never run again,
// such as one still queued when the scheduler stops. Records that are still
// queued move to Error so they can be reissued.
func (o *Orchestrator) AbandonEmission(ctx context.Context, job *invoicing.EmissionJob, reason string) {
	sess := Session{TenantID: job.TenantID, Environment: job.Environment}
	log := logger.FromContext(ctx, o.logger).With(
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
	)
	rejected := make(map[string]string, len(job.OrderIDs))
	for _, orderID := range job.OrderIDs {
		rec, err := o.records.Get(ctx, job.TenantID, job.Environment, orderID)
		if err != nil {
			log.Warn("failed to load invoice record", zap.String("order_id", orderID), zap.Error(err))
			continue
		}
		if rec.State != invoicing.StateQueued {
			continue
		}
		rejected[orderID] = o.abandon(ctx, log, job, orderID, rec, reason)
		o.settle(ctx, sess, orderID, rejected[orderID])
	}
	job.Rejected = rejected
	job.Fail(reason)
	if len(rejected) > 0 {
		o.metrics.EmissionFailed(ctx, string(job.Environment), shared.ErrServiceUnavailable.Code)
	}
	log.Warn("emission job abandoned", zap.String("reason", reason), zap.Int("orders", len(rejected)))
}

// ---------------------------------------------------------------------------
// Status sync
// ---------------------------------------------------------------------------

// SyncStatus pulls the current authorization status of the given orders and
// merges it into their records. Statuses reported for another environment
// are ignored.
func (o *Orchestrator) SyncStatus(ctx context.Context, sess Session, keys []string) ([]OrderResult, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, o.logger).With(
		zap.String("tenant_id", sess.TenantID.String()),
		zap.String("environment", string(sess.Environment)),
	)
	store, _ := o.stores(sess.TenantID)

	results := make([]OrderResult, len(keys))
	byOrder := make(map[string]int, len(keys))
	orderIDs := make([]string, 0, len(keys))
	for i, key := range keys {
		orderID, _ := o.resolve(store, key)
		results[i] = OrderResult{Key: key, OrderID: orderID}
		if _, dup := byOrder[orderID]; !dup {
			byOrder[orderID] = i
			orderIDs = append(orderIDs, orderID)
		}
	}
	if len(orderIDs) == 0 {
		return results, nil
	}

	remotes, err := o.service.GetStatus(ctx, sess.TenantID, sess.Environment, orderIDs)
	if err != nil {
		log.Error("invoice status sync failed", zap.Error(err))
		return nil, err
	}

	seen := make(map[string]bool, len(remotes))
	for _, remote := range remotes {
		if remote.Environment != sess.Environment {
			log.Debug("ignoring status from another environment",
				zap.String("order_id", remote.OrderID),
				zap.String("remote_environment", string(remote.Environment)),
			)
			continue
		}
		rec, err := o.records.Get(ctx, sess.TenantID, sess.Environment, remote.OrderID)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		i, known := byOrder[remote.OrderID]
		if err != nil {
			if known {
				results[i].Err = err
			}
			continue
		}
		seen[remote.OrderID] = true
		if rec.ApplyRemote(remote) {
			if err := o.records.Save(ctx, rec); err != nil && known {
				results[i].Err = err
				continue
			}
			switch {
			case rec.State == invoicing.StateAuthorized:
				o.settle(ctx, sess, rec.OrderID, "")
			case rec.State.IsTerminalFailure():
				o.settle(ctx, sess, rec.OrderID, rec.ErrorMessage)
			}
		}
		if known {
			results[i].State = rec.State
			results[i].DocumentRef = rec.DocumentRef
			if rec.State.IsTerminalFailure() {
				results[i].Err = shared.Wrap(shared.ErrAuthorizationRejected, rec.ErrorMessage, nil)
			}
		}
	}

	for i := range results {
		if results[i].State == "" && results[i].Err == nil && !seen[results[i].OrderID] {
			results[i].Err = shared.Wrap(shared.ErrNotFound,
				fmt.Sprintf("no %s invoice for order %s", sess.Environment, results[i].OrderID), nil)
		}
	}
	// duplicated keys share the first key's outcome
	for i := range results {
		if first := byOrder[results[i].OrderID]; first != i {
			results[i].State = results[first].State
			results[i].DocumentRef = results[first].DocumentRef
			results[i].Err = results[first].Err
		}
	}
	return results, nil
}

// SyncInFlight syncs every record the invoicing service is still processing,
// grouped by tenant and environment. Used by the status poller.
func (o *Orchestrator) SyncInFlight(ctx context.Context) (int, error) {
	recs, err := o.records.ListByStates(ctx, invoicing.StateProcessing)
	if err != nil {
		return 0, err
	}
	groups := make(map[Session][]string)
	for _, rec := range recs {
		sess := Session{TenantID: rec.TenantID, Environment: rec.Environment}
		groups[sess] = append(groups[sess], rec.OrderID)
	}

	var errs []error
	synced := 0
	for sess, ids := range groups {
		results, err := o.SyncStatus(ctx, sess, ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s %s: %w", sess.TenantID, sess.Environment, err))
			continue
		}
		for _, r := range results {
			if r.State != "" && !r.State.IsInFlight() {
				synced++
			}
		}
	}
	return synced, errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// XML upload
// ---------------------------------------------------------------------------

// SubmitXML queues the authorized XML of an order for upload to the
// marketplace. Re-submitting an already sent XML is a no-op reported through
// AlreadySent. The record moves to XmlSent only after the queue accepts it.
func (o *Orchestrator) SubmitXML(ctx context.Context, sess Session, key string) (OrderResult, error) {
	if err := sess.Validate(); err != nil {
		return OrderResult{}, err
	}
	store, _ := o.stores(sess.TenantID)
	orderID, _ := o.resolve(store, key)
	res := OrderResult{Key: key, OrderID: orderID}

	rec, err := o.records.Get(ctx, sess.TenantID, sess.Environment, orderID)
	if errors.Is(err, shared.ErrNotFound) {
		return res, shared.Wrap(shared.ErrPreconditionFailed,
			fmt.Sprintf("order %s has no %s invoice", orderID, sess.Environment), nil)
	}
	if err != nil {
		return res, err
	}
	res.DocumentRef = rec.DocumentRef
	res.State = rec.State

	ok, err := rec.CanSubmitXML()
	if err != nil {
		return res, err
	}
	if !ok {
		res.AlreadySent = true
		return res, nil
	}

	if err := o.service.SubmitXML(ctx, sess.TenantID, sess.Environment, rec.DocumentRef); err != nil {
		logger.FromContext(ctx, o.logger).Error("xml submission failed",
			zap.String("order_id", orderID),
			zap.String("document_ref", rec.DocumentRef),
			zap.Error(err),
		)
		return res, err
	}
	rec.MarkXMLSent()
	if err := o.records.Save(ctx, rec); err != nil {
		return res, err
	}
	res.State = rec.State
	return res, nil
}

// Record returns the invoice record of an order
func (o *Orchestrator) Record(ctx context.Context, sess Session, key string) (*invoicing.Record, error) {
	store, _ := o.stores(sess.TenantID)
	orderID, _ := o.resolve(store, key)
	return o.records.Get(ctx, sess.TenantID, sess.Environment, orderID)
}
