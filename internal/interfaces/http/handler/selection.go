package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erp/fulfillment/internal/application/bulk"
	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// SelectionHandler manages the per-bucket bulk selection
type SelectionHandler struct {
	BaseHandler
	sessions   *appfulfillment.SessionManager
	selections *bulk.Selections
}

// NewSelectionHandler creates a new SelectionHandler
func NewSelectionHandler(sessions *appfulfillment.SessionManager, selections *bulk.Selections) *SelectionHandler {
	return &SelectionHandler{sessions: sessions, selections: selections}
}

func (h *SelectionHandler) respond(c *gin.Context, tenantID uuid.UUID) {
	h.Success(c, SelectionResponse{
		Bucket:   string(h.selections.ActiveBucket(tenantID)),
		OrderIDs: h.selections.Selected(tenantID),
	})
}

// Get returns the selection of the active bucket
// GET /selection
func (h *SelectionHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	h.respond(c, tenantID)
}

// SetBucket switches the active bucket. Switching clears the selection.
// PUT /selection/bucket
func (h *SelectionHandler) SetBucket(c *gin.Context) {
	var req ActiveBucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	bucket, _ := fulfillment.ParseBucket(req.Bucket)
	h.selections.SetActiveBucket(tenantID, bucket)
	h.respond(c, tenantID)
}

// Select adds orders to the selection. Orders that are not loaded or not in
// the active bucket are ignored.
// POST /selection
func (h *SelectionHandler) Select(c *gin.Context) {
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	store, err := h.sessions.Open(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	active := h.selections.ActiveBucket(tenantID)
	ids := make([]string, 0, len(req.OrderIDs))
	for _, key := range req.OrderIDs {
		id, ok := store.Resolve(key)
		if !ok {
			continue
		}
		o, ok := store.Get(id)
		if !ok {
			continue
		}
		if active != fulfillment.BucketAll && fulfillment.Classify(o) != active {
			continue
		}
		ids = append(ids, id)
	}
	h.selections.Select(tenantID, ids...)
	h.respond(c, tenantID)
}

// Deselect removes orders from the selection
// POST /selection/remove
func (h *SelectionHandler) Deselect(c *gin.Context) {
	var req SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	h.selections.Deselect(tenantID, req.OrderIDs...)
	h.respond(c, tenantID)
}

// Clear empties every selection of the tenant
// POST /selection/clear
func (h *SelectionHandler) Clear(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	h.selections.Clear(tenantID)
	h.respond(c, tenantID)
}
