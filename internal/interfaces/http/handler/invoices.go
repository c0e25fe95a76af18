package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	appinvoicing "github.com/erp/fulfillment/internal/application/invoicing"
	"github.com/erp/fulfillment/internal/domain/invoicing"
)

// InvoiceService is the part of the invoice orchestrator served over HTTP
type InvoiceService interface {
	SyncStatus(ctx context.Context, sess appinvoicing.Session, keys []string) ([]appinvoicing.OrderResult, error)
	SubmitXML(ctx context.Context, sess appinvoicing.Session, key string) (appinvoicing.OrderResult, error)
	Record(ctx context.Context, sess appinvoicing.Session, key string) (*invoicing.Record, error)
}

// JobHistory lists recent emission jobs, newest first
type JobHistory interface {
	GetJobHistory(limit int) []*invoicing.EmissionJob
}

// InvoiceHandler exposes fiscal document status and XML upload per order.
// The environment comes from the request, so sandbox and production never mix.
type InvoiceHandler struct {
	BaseHandler
	invoices InvoiceService
	jobs     JobHistory
}

// NewInvoiceHandler creates a new InvoiceHandler. jobs may be nil.
func NewInvoiceHandler(invoices InvoiceService, jobs JobHistory) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, jobs: jobs}
}

// SyncStatus refreshes the authorization status of the orders
// POST /invoices/sync
func (h *InvoiceHandler) SyncStatus(c *gin.Context) {
	var req InvoiceSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	sess, err := getSession(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	results, err := h.invoices.SyncStatus(c.Request.Context(), sess, req.OrderIDs)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toInvoiceResultResponses(results))
}

// SubmitXML uploads the authorized XML of an order to its marketplace
// POST /invoices/:id/xml
func (h *InvoiceHandler) SubmitXML(c *gin.Context) {
	sess, err := getSession(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	res, err := h.invoices.SubmitXML(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toInvoiceResultResponses([]appinvoicing.OrderResult{res})[0])
}

// Get returns the invoice record of an order
// GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	sess, err := getSession(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	rec, err := h.invoices.Record(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toInvoiceRecordResponse(rec))
}

// ListJobs returns the tenant's recent emission jobs
// GET /invoices/jobs?limit=
func (h *InvoiceHandler) ListJobs(c *gin.Context) {
	sess, err := getSession(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			h.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	out := make([]JobResponse, 0, limit)
	if h.jobs != nil {
		// history is shared by every tenant
		for _, j := range h.jobs.GetJobHistory(0) {
			if j.TenantID != sess.TenantID || j.Environment != sess.Environment {
				continue
			}
			out = append(out, toJobResponse(j))
			if len(out) == limit {
				break
			}
		}
	}
	h.Success(c, out)
}
