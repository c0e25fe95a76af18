package bulk

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
)

// Action names a bulk action
type Action string

const (
	ActionSync  Action = "sync"
	ActionEmit  Action = "emit"
	ActionPrint Action = "print"
)

// Failure is one order a bulk action could not complete
type Failure struct {
	OrderID string `json:"order_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result aggregates the per-order outcome of a bulk action
type Result struct {
	Action    Action    `json:"action"`
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// PrintResult is a bulk print result with the labels to print
type PrintResult struct {
	Result
	Labels []integration.LabelContent `json:"-"`
}

// Emitter requests invoice emissions
type Emitter interface {
	RequestEmission(ctx context.Context, sess appinvoicing.Session, keys []string, opts invoicing.EmitOptions) ([]appinvoicing.OrderResult, error)
}

// Reloader reloads a tenant's orders after a sync
type Reloader func(ctx context.Context, tenantID uuid.UUID) error

// Coordinator fans bulk actions out per order and reports aggregated results.
// A failing order never blocks the others.
type Coordinator struct {
	selections  *Selections
	sync        integration.MarketplaceSync
	emitter     Emitter
	labels      integration.LabelRenderer
	reload      Reloader
	concurrency int
	logger      *zap.Logger
}

// NewCoordinator creates a coordinator. concurrency bounds the per-order fan-out.
func NewCoordinator(
	selections *Selections,
	syncer integration.MarketplaceSync,
	emitter Emitter,
	labels integration.LabelRenderer,
	reload Reloader,
	concurrency int,
	logger *zap.Logger,
) *Coordinator {
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		selections:  selections,
		sync:        syncer,
		emitter:     emitter,
		labels:      labels,
		reload:      reload,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Selections returns the selection registry
func (c *Coordinator) Selections() *Selections {
	return c.selections
}

// targets returns the explicit ids, or the current selection when none are given
func (c *Coordinator) targets(tenantID uuid.UUID, orderIDs []string) []string {
	if len(orderIDs) > 0 {
		return dedupe(orderIDs)
	}
	return c.selections.Selected(tenantID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// collector gathers per-order outcomes from concurrent workers
type collector struct {
	mu     sync.Mutex
	result Result
}

func (c *collector) ok(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Succeeded = append(c.result.Succeeded, orderID)
}

func (c *collector) fail(orderID string, err error) {
	code := shared.ErrorCode(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result.Failed = append(c.result.Failed, Failure{OrderID: orderID, Code: code, Message: err.Error()})
}

func (c *collector) done() Result {
	sort.Strings(c.result.Succeeded)
	sort.Slice(c.result.Failed, func(i, j int) bool { return c.result.Failed[i].OrderID < c.result.Failed[j].OrderID })
	if c.result.Succeeded == nil {
		c.result.Succeeded = []string{}
	}
	if c.result.Failed == nil {
		c.result.Failed = []Failure{}
	}
	return c.result
}

func (c *Coordinator) finish(ctx context.Context, tenantID uuid.UUID, res Result) {
	c.selections.Clear(tenantID)
	logger.FromContext(ctx, c.logger).Info("bulk action completed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("action", string(res.Action)),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
	)
}

// Sync triggers a marketplace pull for each order and reloads once afterwards
func (c *Coordinator) Sync(ctx context.Context, tenantID uuid.UUID, orderIDs []string) (Result, error) {
	if c.sync == nil {
		return Result{}, shared.Wrap(shared.ErrServiceUnavailable, "marketplace sync not configured", nil)
	}
	ids := c.targets(tenantID, orderIDs)
	col := &collector{result: Result{Action: ActionSync}}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := c.sync.SyncOrders(ctx, tenantID, integration.SyncSelector{
				Kind:     integration.SelectByIDs,
				OrderIDs: []string{id},
			})
			if err != nil {
				col.fail(id, err)
				return nil
			}
			col.ok(id)
			return nil
		})
	}
	_ = g.Wait()

	res := col.done()
	if len(res.Succeeded) > 0 && c.reload != nil {
		if err := c.reload(ctx, tenantID); err != nil && shared.IsUserVisible(err) {
			logger.FromContext(ctx, c.logger).Warn("reload after sync failed", zap.Error(err))
		}
	}
	c.finish(ctx, tenantID, res)
	return res, nil
}

// Emit requests invoice emission for the orders in one batch
func (c *Coordinator) Emit(ctx context.Context, sess appinvoicing.Session, orderIDs []string, opts invoicing.EmitOptions) (Result, error) {
	if c.emitter == nil {
		return Result{}, shared.Wrap(shared.ErrServiceUnavailable, "invoicing not configured", nil)
	}
	ids := c.targets(sess.TenantID, orderIDs)
	col := &collector{result: Result{Action: ActionEmit}}
	if len(ids) > 0 {
		results, err := c.emitter.RequestEmission(ctx, sess, ids, opts)
		if err != nil {
			return Result{}, err
		}
		for _, r := range results {
			if r.Err != nil {
				col.fail(r.OrderID, r.Err)
				continue
			}
			col.ok(r.OrderID)
		}
	}
	res := col.done()
	c.finish(ctx, sess.TenantID, res)
	return res, nil
}

// Print collects the cached labels of the orders and marks the printed ones.
// Orders without a cached label fail individually.
func (c *Coordinator) Print(ctx context.Context, tenantID uuid.UUID, orderIDs []string) (PrintResult, error) {
	if c.labels == nil {
		return PrintResult{}, shared.Wrap(shared.ErrServiceUnavailable, "label renderer not configured", nil)
	}
	ids := c.targets(tenantID, orderIDs)
	col := &collector{result: Result{Action: ActionPrint}}

	var mu sync.Mutex
	labels := make(map[string]integration.LabelContent, len(ids))
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			label, found, err := c.labels.GetCachedLabel(ctx, tenantID, id)
			switch {
			case err != nil:
				col.fail(id, err)
			case !found:
				col.fail(id, shared.Wrap(shared.ErrPreconditionFailed,
					fmt.Sprintf("no cached label for order %s", id), integration.ErrLabelUnavailable))
			default:
				mu.Lock()
				labels[id] = label
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	printed := make([]string, 0, len(labels))
	for id := range labels {
		printed = append(printed, id)
	}
	sort.Strings(printed)

	out := PrintResult{}
	if len(printed) > 0 {
		if err := c.labels.MarkPrinted(ctx, tenantID, printed); err != nil {
			for _, id := range printed {
				col.fail(id, err)
			}
			printed = nil
		}
	}
	for _, id := range printed {
		col.ok(id)
		out.Labels = append(out.Labels, labels[id])
	}
	out.Result = col.done()
	c.finish(ctx, tenantID, out.Result)
	return out, nil
}
