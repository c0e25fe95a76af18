package router

import (
	"github.com/erp/fulfillment/internal/interfaces/http/handler"
)

// Handlers are the API handlers of the fulfillment service
type Handlers struct {
	Orders    *handler.OrderHandler
	Selection *handler.SelectionHandler
	Bulk      *handler.BulkHandler
	Invoices  *handler.InvoiceHandler
}

// Fulfillment registers the order, selection, bulk and invoice groups.
// Every route is tenant scoped; the tenant middleware goes on the router.
func Fulfillment(r *Router, h Handlers) *Router {
	orders := NewDomainGroup("orders", "/orders")
	orders.GET("", h.Orders.List)
	orders.GET("/counts", h.Orders.Counts)
	orders.POST("/reload", h.Orders.Reload)
	orders.GET("/:id", h.Orders.Get)
	orders.POST("/:id/status", h.Orders.ToggleStatus)
	orders.POST("/:id/mutations/confirm", h.Orders.ConfirmMutation)
	orders.POST("/:id/mutations/rollback", h.Orders.RollbackMutation)

	selection := NewDomainGroup("selection", "/selection")
	selection.GET("", h.Selection.Get)
	selection.PUT("/bucket", h.Selection.SetBucket)
	selection.POST("", h.Selection.Select)
	selection.POST("/remove", h.Selection.Deselect)
	selection.POST("/clear", h.Selection.Clear)

	bulk := NewDomainGroup("bulk", "/bulk")
	bulk.POST("/sync", h.Bulk.Sync)
	bulk.POST("/emit", h.Bulk.Emit)
	bulk.POST("/print", h.Bulk.Print)

	invoices := NewDomainGroup("invoices", "/invoices")
	invoices.POST("/sync", h.Invoices.SyncStatus)
	invoices.GET("/jobs", h.Invoices.ListJobs)
	invoices.GET("/:id", h.Invoices.Get)
	invoices.POST("/:id/xml", h.Invoices.SubmitXML)

	return r.Register(orders).
		Register(selection).
		Register(bulk).
		Register(invoices)
}
