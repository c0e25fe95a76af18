package fulfillment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderInvalidID          = errors.New("fulfillment: order id is required")
	ErrOrderInvalidMarketplace = errors.New("fulfillment: marketplace is required")
)

// ---------------------------------------------------------------------------
// Order Entity
// ---------------------------------------------------------------------------

// Order is the canonical order record. Instances held by the reconciliation
// store are treated as immutable: every change produces a new copy.
type Order struct {
	// ID is the stable primary key
	ID string
	// MarketplaceOrderID is the identifier the marketplace assigned
	MarketplaceOrderID string
	// Marketplace is the marketplace code (mercado_livre, shopee, ...)
	Marketplace string
	// CustomerName is the buyer's display name
	CustomerName string
	// StatusInternal is the raw fulfillment status. It is the only input of bucket classification.
	StatusInternal string
	// PaymentStatus is the marketplace payment status
	PaymentStatus string
	// PaymentApprovedAt is when payment was approved, if it was
	PaymentApprovedAt *time.Time
	Shipment          Shipment
	Items             []OrderItem
	Financial         Financial
	Label             Label
	LinkedProducts    []LinkedProduct
	// InvoiceState mirrors the fiscal document state for display and optimistic marks
	InvoiceState string
	// CreatedAt is the order date in the marketplace
	CreatedAt time.Time
	// UpdatedAt is the version marker used for conflict resolution
	UpdatedAt time.Time
}

// Shipment holds the logistics state of an order
type Shipment struct {
	Status        string
	SubStatus     string
	SLAStatus     string
	SLAExpectedAt *time.Time
	Method        string
	Type          ShippingType
}

// OrderItem is one line of an order
type OrderItem struct {
	MarketplaceItemID string
	VariationID       string
	SKU               string
	Name              string
	Quantity          decimal.Decimal
	UnitPrice         decimal.Decimal
	Linked            bool
	ImageRef          string
}

// Total returns quantity times unit price
func (i OrderItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// Financial is the money block of an order. Missing values are zero.
type Financial struct {
	GrossItemsValue  decimal.Decimal
	OrderTotal       decimal.Decimal
	ShippingReceived decimal.Decimal
	ShippingCost     decimal.Decimal
	MarketplaceFee   decimal.Decimal
	Taxes            decimal.Decimal
	ProductCost      decimal.Decimal
	OtherCosts       decimal.Decimal
	Coupon           decimal.Decimal
}

// NetValue is what the seller keeps before product cost
func (f Financial) NetValue() decimal.Decimal {
	return f.GrossItemsValue.
		Add(f.ShippingReceived).
		Sub(f.MarketplaceFee).
		Sub(f.Taxes).
		Sub(f.OtherCosts).
		Sub(f.Coupon).
		Sub(f.ShippingCost)
}

// Label is the cached shipping label rendition. An order has at most one.
type Label struct {
	Cached      bool
	ContentRef  string
	ContentType string
	FetchedAt   *time.Time
}

// LinkedProduct links a marketplace item (and optionally a variation) to an inventory SKU
type LinkedProduct struct {
	MarketplaceItemID string
	VariationID       string
	SKU               string
}

// Validate validates the order's identity fields
func (o *Order) Validate() error {
	if o.ID == "" {
		return ErrOrderInvalidID
	}
	if o.Marketplace == "" {
		return ErrOrderInvalidMarketplace
	}
	return nil
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Items != nil {
		c.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.LinkedProducts != nil {
		c.LinkedProducts = append([]LinkedProduct(nil), o.LinkedProducts...)
	}
	return &c
}

// ItemCount returns the total quantity across items
func (o *Order) ItemCount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Quantity)
	}
	return total
}

// PrimarySKU returns the SKU of the first item, used for sorting
func (o *Order) PrimarySKU() string {
	for _, it := range o.Items {
		if it.SKU != "" {
			return it.SKU
		}
	}
	return ""
}

// IsNewerThan reports whether o is a strictly newer version than other
func (o *Order) IsNewerThan(other *Order) bool {
	if other == nil {
		return true
	}
	return o.UpdatedAt.After(other.UpdatedAt)
}

// MergePartial returns a copy of o with every non-zero field of partial applied.
// A partial update can therefore set fields but never clear them.
func (o *Order) MergePartial(partial *Order) *Order {
	m := o.Clone()
	setString(&m.MarketplaceOrderID, partial.MarketplaceOrderID)
	setString(&m.Marketplace, partial.Marketplace)
	setString(&m.CustomerName, partial.CustomerName)
	setString(&m.StatusInternal, partial.StatusInternal)
	setString(&m.PaymentStatus, partial.PaymentStatus)
	setString(&m.InvoiceState, partial.InvoiceState)
	if partial.PaymentApprovedAt != nil {
		m.PaymentApprovedAt = partial.PaymentApprovedAt
	}

	setString(&m.Shipment.Status, partial.Shipment.Status)
	setString(&m.Shipment.SubStatus, partial.Shipment.SubStatus)
	setString(&m.Shipment.SLAStatus, partial.Shipment.SLAStatus)
	setString(&m.Shipment.Method, partial.Shipment.Method)
	if partial.Shipment.Type != "" && partial.Shipment.Type != ShippingOther {
		m.Shipment.Type = partial.Shipment.Type
	}
	if partial.Shipment.SLAExpectedAt != nil {
		m.Shipment.SLAExpectedAt = partial.Shipment.SLAExpectedAt
	}

	if len(partial.Items) > 0 {
		m.Items = append([]OrderItem(nil), partial.Items...)
	}
	if len(partial.LinkedProducts) > 0 {
		m.LinkedProducts = append([]LinkedProduct(nil), partial.LinkedProducts...)
	}
	if partial.Label.Cached {
		m.Label = partial.Label
	}

	setDecimal(&m.Financial.GrossItemsValue, partial.Financial.GrossItemsValue)
	setDecimal(&m.Financial.OrderTotal, partial.Financial.OrderTotal)
	setDecimal(&m.Financial.ShippingReceived, partial.Financial.ShippingReceived)
	setDecimal(&m.Financial.ShippingCost, partial.Financial.ShippingCost)
	setDecimal(&m.Financial.MarketplaceFee, partial.Financial.MarketplaceFee)
	setDecimal(&m.Financial.Taxes, partial.Financial.Taxes)
	setDecimal(&m.Financial.ProductCost, partial.Financial.ProductCost)
	setDecimal(&m.Financial.OtherCosts, partial.Financial.OtherCosts)
	setDecimal(&m.Financial.Coupon, partial.Financial.Coupon)

	if !partial.CreatedAt.IsZero() {
		m.CreatedAt = partial.CreatedAt
	}
	if partial.UpdatedAt.After(m.UpdatedAt) {
		m.UpdatedAt = partial.UpdatedAt
	}
	return m
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDecimal(dst *decimal.Decimal, v decimal.Decimal) {
	if !v.IsZero() {
		*dst = v
	}
}

// ---------------------------------------------------------------------------
// OrderPatch
// ---------------------------------------------------------------------------

// OrderPatch is a local-only change applied optimistically ahead of server confirmation.
// Nil fields are left untouched.
type OrderPatch struct {
	StatusInternal *string
	InvoiceState   *string
}

// IsEmpty reports whether the patch changes nothing
func (p OrderPatch) IsEmpty() bool {
	return p.StatusInternal == nil && p.InvoiceState == nil
}

// Apply returns a copy of o with the patch applied
func (p OrderPatch) Apply(o *Order) *Order {
	c := o.Clone()
	if p.StatusInternal != nil {
		c.StatusInternal = *p.StatusInternal
	}
	if p.InvoiceState != nil {
		c.InvoiceState = *p.InvoiceState
	}
	return c
}

// ConfirmedBy reports whether a server version of the order already reflects the patch
func (p OrderPatch) ConfirmedBy(o *Order) bool {
	if p.StatusInternal != nil && Fold(o.StatusInternal) != Fold(*p.StatusInternal) {
		return false
	}
	if p.InvoiceState != nil && o.InvoiceState != *p.InvoiceState {
		return false
	}
	return !p.IsEmpty()
}

// StatusPatch builds a patch that sets StatusInternal
func StatusPatch(status string) OrderPatch {
	return OrderPatch{StatusInternal: &status}
}

// InvoiceStatePatch builds a patch that sets InvoiceState
func InvoiceStatePatch(state string) OrderPatch {
	return OrderPatch{InvoiceState: &state}
}
