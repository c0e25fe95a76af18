package handler

import (
	"time"

	"github.com/shopspring/decimal"

	appfulfillment "github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/domain/fulfillment"
)

// dateLayout is the layout of date query parameters
const dateLayout = "2006-01-02"

// OrderListRequest is the query string of GET /orders
type OrderListRequest struct {
	Bucket       string `form:"bucket" binding:"omitempty,order_bucket"`
	Page         int    `form:"page" binding:"omitempty,min=1"`
	Sort         string `form:"sort" binding:"omitempty,order_sort"`
	Search       string `form:"search" binding:"max=200"`
	Marketplace  string `form:"marketplace" binding:"max=50"`
	ShippingType string `form:"shipping_type" binding:"omitempty,shipping_type"`
	From         string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To           string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

// Filters converts the request filters. Dates were validated by binding.
func (r OrderListRequest) Filters() appfulfillment.Filters {
	f := appfulfillment.Filters{
		Search:       r.Search,
		Marketplace:  r.Marketplace,
		ShippingType: fulfillment.ShippingType(r.ShippingType),
	}
	if r.From != "" {
		f.From, _ = time.Parse(dateLayout, r.From)
	}
	if r.To != "" {
		f.To, _ = time.Parse(dateLayout, r.To)
	}
	return f
}

// Query converts the request to a store query. An empty bucket means all orders.
func (r OrderListRequest) Query() appfulfillment.Query {
	bucket, _ := fulfillment.ParseBucket(r.Bucket)
	return appfulfillment.Query{
		Bucket:  bucket,
		Filters: r.Filters(),
		Sort:    appfulfillment.SortKey(r.Sort),
		Page:    r.Page,
	}
}

// ReloadRequest narrows a reload. All fields are optional.
type ReloadRequest struct {
	From        string   `json:"from" binding:"omitempty,datetime=2006-01-02"`
	To          string   `json:"to" binding:"omitempty,datetime=2006-01-02"`
	Marketplace string   `json:"marketplace" binding:"max=50"`
	OrderIDs    []string `json:"order_ids" binding:"omitempty,max=500,dive,required,max=100"`
}

// StatusToggleRequest sets the internal fulfillment status of an order
type StatusToggleRequest struct {
	Status string `json:"status" binding:"required,max=100"`
}

// MutationRequest refers to an optimistic mutation
type MutationRequest struct {
	MutationID string `json:"mutation_id" binding:"required,uuid"`
	Reason     string `json:"reason" binding:"max=500"`
}

// MutationResponse identifies an applied optimistic mutation
type MutationResponse struct {
	OrderID    string `json:"order_id"`
	MutationID string `json:"mutation_id"`
}

// MutationOutcomeResponse reports whether a confirm or rollback changed anything
type MutationOutcomeResponse struct {
	OrderID    string `json:"order_id"`
	MutationID string `json:"mutation_id"`
	Applied    bool   `json:"applied"`
}

// LoadResponse reports how a reload was merged
type LoadResponse struct {
	RunID     uint64 `json:"run_id"`
	Applied   int    `json:"applied"`
	KeptNewer int    `json:"kept_newer"`
	Retained  int    `json:"retained"`
	Skipped   int    `json:"skipped"`
}

// ShipmentResponse is the shipment of an order
type ShipmentResponse struct {
	Status        string     `json:"status"`
	SubStatus     string     `json:"sub_status,omitempty"`
	SLAStatus     string     `json:"sla_status,omitempty"`
	SLAExpectedAt *time.Time `json:"sla_expected_at,omitempty"`
	Method        string     `json:"method,omitempty"`
	Type          string     `json:"type"`
}

// OrderItemResponse is one order line
type OrderItemResponse struct {
	MarketplaceItemID string          `json:"marketplace_item_id"`
	VariationID       string          `json:"variation_id,omitempty"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Linked            bool            `json:"linked"`
	ImageRef          string          `json:"image_ref,omitempty"`
}

// MarginResponse is the contribution margin breakdown of an order
type MarginResponse struct {
	Gross            decimal.Decimal `json:"gross"`
	ShippingReceived decimal.Decimal `json:"shipping_received"`
	MarketplaceFee   decimal.Decimal `json:"marketplace_fee"`
	Taxes            decimal.Decimal `json:"taxes"`
	ProductCost      decimal.Decimal `json:"product_cost"`
	OtherCosts       decimal.Decimal `json:"other_costs"`
	Coupon           decimal.Decimal `json:"coupon"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	Contribution     decimal.Decimal `json:"contribution"`
	Percent          decimal.Decimal `json:"percent"`
	Negative         bool            `json:"negative"`
}

// OrderResponse is an order row of the fulfillment table
type OrderResponse struct {
	ID                 string              `json:"id"`
	MarketplaceOrderID string              `json:"marketplace_order_id"`
	Marketplace        string              `json:"marketplace"`
	CustomerName       string              `json:"customer_name"`
	Bucket             string              `json:"bucket"`
	Status             string              `json:"status"`
	StatusInternal     string              `json:"status_internal"`
	PaymentStatus      string              `json:"payment_status,omitempty"`
	PaymentApprovedAt  *time.Time          `json:"payment_approved_at,omitempty"`
	Shipment           ShipmentResponse    `json:"shipment"`
	Items              []OrderItemResponse `json:"items"`
	Margin             MarginResponse      `json:"margin"`
	InvoiceState       string              `json:"invoice_state,omitempty"`
	LabelCached        bool                `json:"label_cached"`
	PendingMutations   int                 `json:"pending_mutations"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// CountsResponse holds the number of orders per bucket
type CountsResponse map[string]int

func toMarginResponse(m fulfillment.MarginBreakdown) MarginResponse {
	return MarginResponse{
		Gross:            m.Gross,
		ShippingReceived: m.ShippingReceived,
		MarketplaceFee:   m.MarketplaceFee,
		Taxes:            m.Taxes,
		ProductCost:      m.ProductCost,
		OtherCosts:       m.OtherCosts,
		Coupon:           m.Coupon,
		ShippingCost:     m.ShippingCost,
		Contribution:     m.Contribution,
		Percent:          m.Percent,
		Negative:         m.Negative,
	}
}

func toOrderResponse(v appfulfillment.OrderView) OrderResponse {
	o := v.Order
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			MarketplaceItemID: it.MarketplaceItemID,
			VariationID:       it.VariationID,
			SKU:               it.SKU,
			Name:              it.Name,
			Quantity:          it.Quantity,
			UnitPrice:         it.UnitPrice,
			Linked:            it.Linked,
			ImageRef:          it.ImageRef,
		})
	}
	return OrderResponse{
		ID:                 o.ID,
		MarketplaceOrderID: o.MarketplaceOrderID,
		Marketplace:        o.Marketplace,
		CustomerName:       o.CustomerName,
		Bucket:             string(v.Bucket),
		Status:             v.DisplayStatus,
		StatusInternal:     o.StatusInternal,
		PaymentStatus:      o.PaymentStatus,
		PaymentApprovedAt:  o.PaymentApprovedAt,
		Shipment: ShipmentResponse{
			Status:        o.Shipment.Status,
			SubStatus:     o.Shipment.SubStatus,
			SLAStatus:     o.Shipment.SLAStatus,
			SLAExpectedAt: o.Shipment.SLAExpectedAt,
			Method:        o.Shipment.Method,
			Type:          string(o.Shipment.Type),
		},
		Items:            items,
		Margin:           toMarginResponse(v.Margin),
		InvoiceState:     o.InvoiceState,
		LabelCached:      o.Label.Cached,
		PendingMutations: v.PendingMutations,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func toOrderResponses(views []appfulfillment.OrderView) []OrderResponse {
	out := make([]OrderResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toOrderResponse(v))
	}
	return out
}

func toCountsResponse(counts map[fulfillment.Bucket]int) CountsResponse {
	out := make(CountsResponse, len(counts))
	for b, n := range counts {
		out[string(b)] = n
	}
	return out
}
