package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnifiedOrderRowModel is a row of the unified order view maintained by the
// back office. The service only reads it.
type UnifiedOrderRowModel struct {
	ID                 string              `gorm:"type:varchar(64);primaryKey"`
	TenantID           uuid.UUID           `gorm:"type:uuid;not null;index"`
	MarketplaceOrderID string              `gorm:"type:varchar(64);index"`
	Marketplace        string              `gorm:"type:varchar(30)"`
	CustomerName       string              `gorm:"type:varchar(255)"`
	StatusInterno      string              `gorm:"type:varchar(60)"`
	PaymentStatus      string              `gorm:"type:varchar(40)"`
	PaymentApprovedAt  *time.Time          `gorm:""`
	ShipmentStatus     string              `gorm:"type:varchar(40)"`
	ShipmentSubstatus  string              `gorm:"type:varchar(60)"`
	SLAStatus          string              `gorm:"type:varchar(40)"`
	SLAExpectedDate    *time.Time          `gorm:""`
	ShippingMethod     string              `gorm:"type:varchar(60)"`
	ShippingType       string              `gorm:"type:varchar(30)"`
	ItemsJSON          string              `gorm:"type:text;column:items"`
	LinkedProductsJSON string              `gorm:"type:text;column:linked_products"`
	GrossItemsValue    decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	OrderTotal         decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	ShippingReceived   decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	ShippingCost       decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	MarketplaceFee     decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	Taxes              decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	ProductCost        decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	OtherCosts         decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	Coupon             decimal.NullDecimal `gorm:"type:numeric(14,2)"`
	LabelCached        *bool               `gorm:""`
	LabelContentRef    string              `gorm:"type:varchar(255)"`
	LabelContentType   string              `gorm:"type:varchar(60)"`
	LabelFetchedAt     *time.Time          `gorm:""`
	InvoiceState       string              `gorm:"type:varchar(20)"`
	CreatedAt          *time.Time          `gorm:"index"`
	UpdatedAt          *time.Time          `gorm:""`
}

// TableName returns the default view name. Callers may read another view
// with db.Table.
func (UnifiedOrderRowModel) TableName() string {
	return "unified_orders"
}

// ToRaw converts the model to the loosely typed raw row the normalizer
// consumes. Absent values stay nil so the normalizer can tell them apart
// from zero.
func (m *UnifiedOrderRowModel) ToRaw() (*integration.UnifiedRow, error) {
	row := &integration.UnifiedRow{
		ID:                 m.ID,
		MarketplaceOrderID: m.MarketplaceOrderID,
		Marketplace:        m.Marketplace,
		CustomerName:       m.CustomerName,
		StatusInternal:     m.StatusInterno,
		PaymentStatus:      m.PaymentStatus,
		PaymentApprovedAt:  timeValue(m.PaymentApprovedAt),
		ShipmentStatus:     m.ShipmentStatus,
		ShipmentSubStatus:  m.ShipmentSubstatus,
		SLAStatus:          m.SLAStatus,
		SLAExpectedAt:      timeValue(m.SLAExpectedDate),
		ShippingMethod:     m.ShippingMethod,
		ShippingType:       m.ShippingType,
		GrossItemsValue:    decimalValue(m.GrossItemsValue),
		OrderTotal:         decimalValue(m.OrderTotal),
		ShippingReceived:   decimalValue(m.ShippingReceived),
		ShippingCost:       decimalValue(m.ShippingCost),
		MarketplaceFee:     decimalValue(m.MarketplaceFee),
		Taxes:              decimalValue(m.Taxes),
		ProductCost:        decimalValue(m.ProductCost),
		OtherCosts:         decimalValue(m.OtherCosts),
		Coupon:             decimalValue(m.Coupon),
		LabelContentRef:    m.LabelContentRef,
		LabelContentType:   m.LabelContentType,
		LabelFetchedAt:     timeValue(m.LabelFetchedAt),
		InvoiceState:       m.InvoiceState,
		CreatedAt:          timeValue(m.CreatedAt),
		UpdatedAt:          timeValue(m.UpdatedAt),
	}
	if m.LabelCached != nil {
		row.LabelCached = *m.LabelCached
	}
	if m.ItemsJSON != "" {
		if err := json.Unmarshal([]byte(m.ItemsJSON), &row.Items); err != nil {
			return row, fmt.Errorf("order %s: items: %w", m.ID, err)
		}
	}
	if m.LinkedProductsJSON != "" {
		if err := json.Unmarshal([]byte(m.LinkedProductsJSON), &row.LinkedProducts); err != nil {
			return row, fmt.Errorf("order %s: linked products: %w", m.ID, err)
		}
	}
	return row, nil
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func decimalValue(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}
