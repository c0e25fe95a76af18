package integration

import (
	"strconv"

	"github.com/spf13/cast"
)

// RowSource tags which schema a raw row follows
type RowSource string

const (
	SourceUnified      RowSource = "unified"
	SourceMercadoLivre RowSource = "mercado_livre"
	SourceShopee       RowSource = "shopee"
)

// RawRow is one order row as delivered by a source. Concrete types are
// *UnifiedRow, *MercadoLivreRow and *ShopeeRow. Numeric and time fields are
// loosely typed (string, float, int or nil) because the sources disagree.
type RawRow interface {
	Source() RowSource
	// Key returns the identifier used for logging, which may be empty on malformed rows
	Key() string
}

// RawItem is an item line of the unified view
type RawItem struct {
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id"`
	SKU         string `json:"sku"`
	Title       string `json:"title"`
	Quantity    any    `json:"quantity"`
	UnitPrice   any    `json:"unit_price"`
	Amount      any    `json:"amount"`
	ImageURL    string `json:"image_url"`
}

// RawLinkedProduct is an item-to-inventory link as stored by the backend
type RawLinkedProduct struct {
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id"`
	SKU         string `json:"sku"`
}

// ---------------------------------------------------------------------------
// Unified view
// ---------------------------------------------------------------------------

// UnifiedRow is a row of the backend's unified order view
type UnifiedRow struct {
	ID                 string             `json:"id"`
	MarketplaceOrderID string             `json:"marketplace_order_id"`
	Marketplace        string             `json:"marketplace"`
	CustomerName       string             `json:"customer_name"`
	StatusInternal     string             `json:"status_interno"`
	PaymentStatus      string             `json:"payment_status"`
	PaymentApprovedAt  any                `json:"payment_approved_at"`
	ShipmentStatus     string             `json:"shipment_status"`
	ShipmentSubStatus  string             `json:"shipment_substatus"`
	SLAStatus          string             `json:"sla_status"`
	SLAExpectedAt      any                `json:"sla_expected_date"`
	ShippingMethod     string             `json:"shipping_method"`
	ShippingType       string             `json:"shipping_type"`
	Items              []RawItem          `json:"items"`
	LinkedProducts     []RawLinkedProduct `json:"linked_products"`
	GrossItemsValue    any                `json:"gross_items_value"`
	OrderTotal         any                `json:"order_total"`
	ShippingReceived   any                `json:"shipping_received"`
	ShippingCost       any                `json:"shipping_cost"`
	MarketplaceFee     any                `json:"marketplace_fee"`
	Taxes              any                `json:"taxes"`
	ProductCost        any                `json:"product_cost"`
	OtherCosts         any                `json:"other_costs"`
	Coupon             any                `json:"coupon"`
	LabelCached        any                `json:"label_cached"`
	LabelContentRef    string             `json:"label_content_ref"`
	LabelContentType   string             `json:"label_content_type"`
	LabelFetchedAt     any                `json:"label_fetched_at"`
	InvoiceState       string             `json:"invoice_state"`
	CreatedAt          any                `json:"created_at"`
	UpdatedAt          any                `json:"updated_at"`
}

// Source implements RawRow
func (r *UnifiedRow) Source() RowSource { return SourceUnified }

// Key implements RawRow
func (r *UnifiedRow) Key() string { return r.ID }

// ---------------------------------------------------------------------------
// Mercado Livre raw table
// ---------------------------------------------------------------------------

// MercadoLivreItem is an item of a Mercado Livre order
type MercadoLivreItem struct {
	ItemID      string `json:"item_id"`
	VariationID any    `json:"variation_id"`
	SellerSKU   string `json:"seller_sku"`
	Title       string `json:"title"`
	Quantity    any    `json:"quantity"`
	UnitPrice   any    `json:"unit_price"`
	Thumbnail   string `json:"thumbnail"`
}

// MercadoLivreRow is a row of the Mercado Livre raw orders table
type MercadoLivreRow struct {
	OrderID           any                `json:"order_id"`
	PackID            any                `json:"pack_id"`
	StatusInternal    string             `json:"status_interno"`
	BuyerNickname     string             `json:"buyer_nickname"`
	BuyerName         string             `json:"buyer_name"`
	DateCreated       any                `json:"date_created"`
	LastUpdated       any                `json:"last_updated"`
	PaymentStatus     string             `json:"payment_status"`
	DateApproved      any                `json:"date_approved"`
	ShippingStatus    string             `json:"shipping_status"`
	ShippingSubstatus string             `json:"shipping_substatus"`
	ShippingMode      string             `json:"shipping_mode"`
	LogisticType      string             `json:"logistic_type"`
	SLAStatus         string             `json:"sla_status"`
	SLAExpectedDate   any                `json:"sla_expected_date"`
	TotalAmount       any                `json:"total_amount"`
	PaidAmount        any                `json:"paid_amount"`
	ShippingCost      any                `json:"shipping_cost"`
	ShippingReceived  any                `json:"shipping_received"`
	SaleFee           any                `json:"sale_fee"`
	Taxes             any                `json:"taxes"`
	ProductCost       any                `json:"product_cost"`
	Coupon            any                `json:"coupon_amount"`
	Items             []MercadoLivreItem `json:"order_items"`
	LinkedProducts    []RawLinkedProduct `json:"linked_products"`
}

// Source implements RawRow
func (r *MercadoLivreRow) Source() RowSource { return SourceMercadoLivre }

// Key implements RawRow
func (r *MercadoLivreRow) Key() string { return stringOf(r.OrderID) }

// ---------------------------------------------------------------------------
// Shopee raw table
// ---------------------------------------------------------------------------

// ShopeeItem is an item of a Shopee order
type ShopeeItem struct {
	ItemID          any    `json:"item_id"`
	ModelID         any    `json:"model_id"`
	ItemSKU         string `json:"item_sku"`
	ModelSKU        string `json:"model_sku"`
	ItemName        string `json:"item_name"`
	Quantity        any    `json:"model_quantity_purchased"`
	DiscountedPrice any    `json:"model_discounted_price"`
	ImageURL        string `json:"image_url"`
}

// ShopeeRow is a row of the Shopee raw orders table. Times are unix seconds.
type ShopeeRow struct {
	OrderSN              string             `json:"order_sn"`
	OrderStatus          string             `json:"order_status"`
	StatusInternal       string             `json:"status_interno"`
	BuyerUsername        string             `json:"buyer_username"`
	CreateTime           any                `json:"create_time"`
	UpdateTime           any                `json:"update_time"`
	PayTime              any                `json:"pay_time"`
	ShipByDate           any                `json:"ship_by_date"`
	FulfillmentFlag      string             `json:"fulfillment_flag"`
	ShippingCarrier      string             `json:"shipping_carrier"`
	LogisticsStatus      string             `json:"logistics_status"`
	TotalAmount          any                `json:"total_amount"`
	EstimatedShippingFee any                `json:"estimated_shipping_fee"`
	ActualShippingFee    any                `json:"actual_shipping_fee"`
	CommissionFee        any                `json:"commission_fee"`
	ServiceFee           any                `json:"service_fee"`
	Voucher              any                `json:"voucher_from_seller"`
	Items                []ShopeeItem       `json:"item_list"`
	LinkedProducts       []RawLinkedProduct `json:"linked_products"`
}

// Source implements RawRow
func (r *ShopeeRow) Source() RowSource { return SourceShopee }

// Key implements RawRow
func (r *ShopeeRow) Key() string { return r.OrderSN }

// stringOf renders a loosely typed identifier (Mercado Livre ids arrive as numbers)
func stringOf(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return cast.ToString(v)
}
