package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/fulfillment/internal/application/bulk"
)

func newSelectionEngine(t *testing.T) *gin.Engine {
	t.Helper()
	h := NewSelectionHandler(newTestSessions(t, &stubFetcher{rows: defaultRows()}), bulk.NewSelections())
	return newTestEngine(func(r *gin.Engine) {
		r.GET("/selection", h.Get)
		r.PUT("/selection/bucket", h.SetBucket)
		r.POST("/selection", h.Select)
		r.POST("/selection/remove", h.Deselect)
		r.POST("/selection/clear", h.Clear)
	})
}

func TestSelectionHandler(t *testing.T) {
	tenant := uuid.New()
	engine := newSelectionEngine(t)

	call := func(t *testing.T, method, path string, body any) SelectionResponse {
		t.Helper()
		w := doRequest(t, engine, method, path, tenant, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var sel SelectionResponse
		decodeData(t, w, &sel)
		return sel
	}

	sel := call(t, http.MethodGet, "/selection", nil)
	assert.Equal(t, "all", sel.Bucket)
	assert.Empty(t, sel.OrderIDs)

	sel = call(t, http.MethodPut, "/selection/bucket", ActiveBucketRequest{Bucket: "printing"})
	assert.Equal(t, "printing", sel.Bucket)

	// o-3 is invoice pending and ghost is not loaded
	sel = call(t, http.MethodPost, "/selection", SelectionRequest{OrderIDs: []string{"o-1", "o-3", "MP-o-2", "ghost"}})
	assert.Equal(t, []string{"o-1", "o-2"}, sel.OrderIDs)

	sel = call(t, http.MethodPost, "/selection/remove", SelectionRequest{OrderIDs: []string{"o-1"}})
	assert.Equal(t, []string{"o-2"}, sel.OrderIDs)

	sel = call(t, http.MethodPut, "/selection/bucket", ActiveBucketRequest{Bucket: "Invoice Pending"})
	assert.Equal(t, "invoice_pending", sel.Bucket)
	assert.Empty(t, sel.OrderIDs)

	sel = call(t, http.MethodPost, "/selection", SelectionRequest{OrderIDs: []string{"o-3"}})
	assert.Equal(t, []string{"o-3"}, sel.OrderIDs)

	sel = call(t, http.MethodPost, "/selection/clear", nil)
	assert.Equal(t, "invoice_pending", sel.Bucket)
	assert.Empty(t, sel.OrderIDs)
}

func TestSelectionHandler_AllBucketAcceptsAnyLoadedOrder(t *testing.T) {
	tenant := uuid.New()
	engine := newSelectionEngine(t)

	w := doRequest(t, engine, http.MethodPost, "/selection", tenant, SelectionRequest{OrderIDs: []string{"o-4", "o-1"}})
	require.Equal(t, http.StatusOK, w.Code)
	var sel SelectionResponse
	decodeData(t, w, &sel)
	assert.Equal(t, []string{"o-1", "o-4"}, sel.OrderIDs)
}

func TestSelectionHandler_Validation(t *testing.T) {
	tenant := uuid.New()
	engine := newSelectionEngine(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "unknown bucket", method: http.MethodPut, path: "/selection/bucket", body: ActiveBucketRequest{Bucket: "archived"}},
		{name: "missing bucket", method: http.MethodPut, path: "/selection/bucket", body: ActiveBucketRequest{}},
		{name: "empty select", method: http.MethodPost, path: "/selection", body: SelectionRequest{OrderIDs: []string{}}},
		{name: "empty remove", method: http.MethodPost, path: "/selection/remove", body: SelectionRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, engine, tt.method, tt.path, tenant, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
