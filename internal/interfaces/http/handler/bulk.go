package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/fulfillment/internal/application/bulk"
	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
)

// BulkHandler runs bulk actions over explicit orders or the current selection.
// Results are aggregated: one failing order never fails the request.
type BulkHandler struct {
	BaseHandler
	sessions    *appfulfillment.SessionManager
	coordinator *bulk.Coordinator
}

// NewBulkHandler creates a new BulkHandler
func NewBulkHandler(sessions *appfulfillment.SessionManager, coordinator *bulk.Coordinator) *BulkHandler {
	return &BulkHandler{sessions: sessions, coordinator: coordinator}
}

// Sync pulls the orders from their marketplaces and reloads the table
// POST /bulk/sync
func (h *BulkHandler) Sync(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	if _, err := h.sessions.Open(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return
	}
	res, err := h.coordinator.Sync(c.Request.Context(), tenantID, req.OrderIDs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toBulkResponse(res))
}

// Emit queues invoice emission. Succeeded orders are queued, not yet authorized.
// POST /bulk/emit
func (h *BulkHandler) Emit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	sess, err := getSession(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	if _, err := h.sessions.Open(c.Request.Context(), sess.TenantID); err != nil {
		h.HandleError(c, err)
		return
	}
	res, err := h.coordinator.Emit(c.Request.Context(), sess, req.OrderIDs, req.Options())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, toBulkResponse(res))
}

// Print returns the cached labels of the orders and marks them printed
// POST /bulk/print
func (h *BulkHandler) Print(c *gin.Context) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	res, err := h.coordinator.Print(c.Request.Context(), tenantID, req.OrderIDs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPrintResponse(res))
}
