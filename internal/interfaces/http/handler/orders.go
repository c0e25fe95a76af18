package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/application/bulk"
	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/shared"
)

// OrderHandler serves the fulfillment order table of a tenant
type OrderHandler struct {
	BaseHandler
	sessions   *appfulfillment.SessionManager
	selections *bulk.Selections
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(sessions *appfulfillment.SessionManager, selections *bulk.Selections) *OrderHandler {
	return &OrderHandler{
		sessions:   sessions,
		selections: selections,
	}
}

// store opens the tenant's session on first use and writes the error response
// when that fails
func (h *OrderHandler) store(c *gin.Context) (*appfulfillment.Store, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return nil, uuid.Nil, false
	}
	s, err := h.sessions.Open(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return nil, uuid.Nil, false
	}
	return s, tenantID, true
}

// List returns one page of a bucket
// GET /orders?bucket=&page=&sort=&search=&marketplace=&shipping_type=&from=&to=
func (h *OrderHandler) List(c *gin.Context) {
	var req OrderListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	store, tenantID, ok := h.store(c)
	if !ok {
		return
	}

	q := req.Query()
	page := store.Query(q)

	// Selection only ever covers rows the caller can see
	if h.selections != nil {
		h.selections.SetActiveBucket(tenantID, q.Bucket)
		h.selections.Prune(tenantID, page.IDs())
	}

	h.SuccessWithMeta(c, toOrderResponses(page.Orders), int64(page.TotalCount), page.Page, page.PageSize, page.TotalPages)
}

// Counts returns the number of orders per bucket under the request filters
// GET /orders/counts
func (h *OrderHandler) Counts(c *gin.Context) {
	var req OrderListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	store, _, ok := h.store(c)
	if !ok {
		return
	}
	h.Success(c, toCountsResponse(store.Counts(req.Filters())))
}

// Get returns one order by order id or marketplace order id
// GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	store, _, ok := h.store(c)
	if !ok {
		return
	}
	view, found := orderView(store, c.Param("id"))
	if !found {
		h.NotFound(c, "Order not found")
		return
	}
	h.Success(c, toOrderResponse(view))
}

func orderView(store *appfulfillment.Store, key string) (appfulfillment.OrderView, bool) {
	id, ok := store.Resolve(key)
	if !ok {
		return appfulfillment.OrderView{}, false
	}
	o, ok := store.Get(id)
	if !ok {
		return appfulfillment.OrderView{}, false
	}
	return appfulfillment.OrderView{
		Order:            o,
		Bucket:           fulfillment.Classify(o),
		DisplayStatus:    fulfillment.DisplayStatus(o),
		Margin:           fulfillment.CalculateMargin(o),
		PendingMutations: store.PendingMutations(id),
	}, true
}

// Reload fetches a fresh snapshot. A reload superseded by a newer one answers 409.
// POST /orders/reload
func (h *OrderHandler) Reload(c *gin.Context) {
	var req ReloadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.ValidationError(c, err)
			return
		}
	}
	filter, err := req.filter()
	if err != nil {
		h.HandleError(c, err)
		return
	}
	store, tenantID, ok := h.store(c)
	if !ok {
		return
	}
	filter.TenantID = tenantID

	res, err := store.Reload(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, LoadResponse{
		RunID:     res.RunID,
		Applied:   res.Applied,
		KeptNewer: res.KeptNewer,
		Retained:  res.Retained,
		Skipped:   res.Skipped,
	})
}

func (r ReloadRequest) filter() (integration.OrderFilter, error) {
	f := integration.OrderFilter{OrderIDs: r.OrderIDs}
	if r.Marketplace != "" {
		m := integration.Marketplace(r.Marketplace)
		if !m.IsValid() {
			return f, shared.Wrap(shared.ErrInvalidInput, fmt.Sprintf("unknown marketplace %q", r.Marketplace), nil)
		}
		f.Marketplace = m
	}
	if r.From != "" {
		t, _ := time.Parse(dateLayout, r.From)
		f.From = &t
	}
	if r.To != "" {
		t, _ := time.Parse(dateLayout, r.To)
		// inclusive upper bound covering the whole day
		end := t.AddDate(0, 0, 1).Add(-time.Microsecond)
		f.To = &end
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return f, shared.Wrap(shared.ErrInvalidInput, "from must not be after to", nil)
	}
	return f, nil
}

// ToggleStatus applies a status change optimistically. The caller confirms or
// rolls it back with the returned mutation id once the backing store answers;
// otherwise the store rolls it back when the confirmation window expires.
// POST /orders/:id/status
func (h *OrderHandler) ToggleStatus(c *gin.Context) {
	var req StatusToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	store, _, ok := h.store(c)
	if !ok {
		return
	}
	id, found := store.Resolve(c.Param("id"))
	if !found {
		h.NotFound(c, "Order not found")
		return
	}
	token, err := store.ApplyOptimisticMutation(c.Request.Context(), id, fulfillment.StatusPatch(req.Status))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, MutationResponse{OrderID: token.OrderID, MutationID: token.ID.String()})
}

// ConfirmMutation marks an optimistic mutation as accepted by the backing store
// POST /orders/:id/mutations/confirm
func (h *OrderHandler) ConfirmMutation(c *gin.Context) {
	h.settleMutation(c, false)
}

// RollbackMutation reverts an optimistic mutation the backing store refused
// POST /orders/:id/mutations/rollback
func (h *OrderHandler) RollbackMutation(c *gin.Context) {
	h.settleMutation(c, true)
}

func (h *OrderHandler) settleMutation(c *gin.Context, rollback bool) {
	var req MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	store, _, ok := h.store(c)
	if !ok {
		return
	}
	id, found := store.Resolve(c.Param("id"))
	if !found {
		h.NotFound(c, "Order not found")
		return
	}
	token := appfulfillment.MutationToken{OrderID: id, ID: uuid.MustParse(req.MutationID)}

	var applied bool
	var err error
	if rollback {
		reason := req.Reason
		if reason == "" {
			reason = "rejected by server"
		}
		applied, err = store.RollbackMutation(c.Request.Context(), token, reason)
	} else {
		applied, err = store.ConfirmMutation(c.Request.Context(), token)
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, MutationOutcomeResponse{OrderID: id, MutationID: req.MutationID, Applied: applied})
}
