package handler

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/application/bulk"
	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/interfaces/http/dto"
)

type fakeSync struct {
	mu     sync.Mutex
	failID string
	synced []string
}

func (f *fakeSync) SyncOrders(ctx context.Context, tenantID uuid.UUID, selector integration.SyncSelector) (integration.SyncResult, error) {
	if selector.OrderIDs[0] == f.failID {
		return integration.SyncResult{}, shared.Wrap(shared.ErrServiceUnavailable, "marketplace throttled", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, selector.OrderIDs...)
	return integration.SyncResult{SyncedCount: 1}, nil
}

type fakeEmitter struct {
	sess appinvoicing.Session
	keys []string
	opts invoicing.EmitOptions
}

func (f *fakeEmitter) RequestEmission(ctx context.Context, sess appinvoicing.Session, keys []string, opts invoicing.EmitOptions) ([]appinvoicing.OrderResult, error) {
	f.sess, f.keys, f.opts = sess, keys, opts
	out := make([]appinvoicing.OrderResult, 0, len(keys))
	for _, k := range keys {
		r := appinvoicing.OrderResult{Key: k, OrderID: k, State: invoicing.StateQueued}
		if k == "o-2" {
			r.State = invoicing.StateAuthorized
			r.Err = shared.Wrap(shared.ErrInvalidState, "invoice already authorized", nil)
		}
		out = append(out, r)
	}
	return out, nil
}

type fakeLabels struct {
	mu      sync.Mutex
	labels  map[string]integration.LabelContent
	printed []string
}

func (f *fakeLabels) GetCachedLabel(ctx context.Context, tenantID uuid.UUID, orderID string) (integration.LabelContent, bool, error) {
	l, ok := f.labels[orderID]
	return l, ok, nil
}

func (f *fakeLabels) MarkPrinted(ctx context.Context, tenantID uuid.UUID, orderIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, orderIDs...)
	return nil
}

type bulkFixture struct {
	engine     *gin.Engine
	selections *bulk.Selections
	syncer     *fakeSync
	emitter    *fakeEmitter
	labels     *fakeLabels
	fetcher    *stubFetcher
}

func newBulkFixture(t *testing.T) *bulkFixture {
	t.Helper()
	f := &bulkFixture{
		selections: bulk.NewSelections(),
		syncer:     &fakeSync{failID: "bad"},
		emitter:    &fakeEmitter{},
		labels: &fakeLabels{labels: map[string]integration.LabelContent{
			"o-1": {OrderID: "o-1", Content: []byte("^XA^FO50,50^FDo-1^FS^XZ"), ContentType: "text/plain", FetchedAt: baseTime},
		}},
		fetcher: &stubFetcher{rows: defaultRows()},
	}
	sessions := newTestSessions(t, f.fetcher)
	reload := func(ctx context.Context, tenantID uuid.UUID) error {
		store, ok := sessions.Get(tenantID)
		if !ok {
			return nil
		}
		_, err := store.Reload(ctx, integration.OrderFilter{})
		return err
	}
	coordinator := bulk.NewCoordinator(f.selections, f.syncer, f.emitter, f.labels, reload, 4, nil)
	h := NewBulkHandler(sessions, coordinator)
	f.engine = newTestEngine(func(r *gin.Engine) {
		r.POST("/bulk/sync", h.Sync)
		r.POST("/bulk/emit", h.Emit)
		r.POST("/bulk/print", h.Print)
	})
	return f
}

func TestBulkHandler_SyncPartialFailure(t *testing.T) {
	tenant := uuid.New()
	f := newBulkFixture(t)

	w := doRequest(t, f.engine, http.MethodPost, "/bulk/sync", tenant, BulkRequest{OrderIDs: []string{"o-1", "bad", "o-1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res BulkResponse
	decodeData(t, w, &res)
	assert.Equal(t, "sync", res.Action)
	assert.Equal(t, []string{"o-1"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].OrderID)
	assert.Equal(t, dto.ErrCodeServiceUnavailable, res.Failed[0].Code)

	// one load on open and one after the sync
	assert.Len(t, f.fetcher.filters, 2)
}

func TestBulkHandler_SyncUsesSelection(t *testing.T) {
	tenant := uuid.New()
	f := newBulkFixture(t)
	f.selections.Select(tenant, "o-2", "o-3")

	w := doRequest(t, f.engine, http.MethodPost, "/bulk/sync", tenant, BulkRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res BulkResponse
	decodeData(t, w, &res)
	assert.Equal(t, []string{"o-2", "o-3"}, res.Succeeded)
	assert.Empty(t, res.Failed)
	assert.ElementsMatch(t, []string{"o-2", "o-3"}, f.syncer.synced)
	assert.Empty(t, f.selections.Selected(tenant))
}

func TestBulkHandler_Emit(t *testing.T) {
	tenant := uuid.New()
	f := newBulkFixture(t)

	w := doRequest(t, f.engine, http.MethodPost, "/bulk/emit", tenant, EmitRequest{
		OrderIDs:       []string{"o-1", "o-2"},
		ForceNewNumber: true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var res BulkResponse
	decodeData(t, w, &res)
	assert.Equal(t, "emit", res.Action)
	assert.Equal(t, []string{"o-1"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, dto.ErrCodeInvalidState, res.Failed[0].Code)

	assert.Equal(t, tenant, f.emitter.sess.TenantID)
	assert.Equal(t, invoicing.EnvironmentSandbox, f.emitter.sess.Environment)
	assert.True(t, f.emitter.opts.ForceNewNumber)
	assert.False(t, f.emitter.opts.ForceNewRef)
}

func TestBulkHandler_Print(t *testing.T) {
	tenant := uuid.New()
	f := newBulkFixture(t)

	w := doRequest(t, f.engine, http.MethodPost, "/bulk/print", tenant, BulkRequest{OrderIDs: []string{"o-1", "o-2"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res PrintResponse
	decodeData(t, w, &res)
	assert.Equal(t, []string{"o-1"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "o-2", res.Failed[0].OrderID)
	assert.Equal(t, dto.ErrCodePreconditionFailed, res.Failed[0].Code)

	require.Len(t, res.Labels, 1)
	assert.Equal(t, "o-1", res.Labels[0].OrderID)
	assert.Equal(t, []byte("^XA^FO50,50^FDo-1^FS^XZ"), res.Labels[0].Content)
	assert.True(t, res.Labels[0].FetchedAt.Equal(baseTime))
	assert.Equal(t, []string{"o-1"}, f.labels.printed)
}

func TestBulkHandler_Validation(t *testing.T) {
	f := newBulkFixture(t)

	ids := make([]string, 501)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	w := doRequest(t, f.engine, http.MethodPost, "/bulk/sync", uuid.New(), BulkRequest{OrderIDs: ids})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, f.engine, http.MethodPost, "/bulk/print", uuid.New(), BulkRequest{OrderIDs: []string{""}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkHandler_SessionsClosed(t *testing.T) {
	sessions := newTestSessions(t, &stubFetcher{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sessions.Close(ctx))

	h := NewBulkHandler(sessions, bulk.NewCoordinator(bulk.NewSelections(), &fakeSync{}, nil, nil, nil, 1, nil))
	engine := newTestEngine(func(r *gin.Engine) { r.POST("/bulk/sync", h.Sync) })

	w := doRequest(t, engine, http.MethodPost, "/bulk/sync", uuid.New(), BulkRequest{OrderIDs: []string{"o-1"}})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, dto.ErrCodeServiceUnavailable, decodeError(t, w).Code)
}
