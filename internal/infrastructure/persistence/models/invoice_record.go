package models

import (
	"github.com/erp/fulfillment/internal/domain/invoicing"
)

// InvoiceRecordModel is the persistence model of an invoicing.Record.
// The primary key is (tenant_id, environment, order_id).
type InvoiceRecordModel struct {
	TenantModel
	Environment        invoicing.Environment      `gorm:"type:varchar(20);not null;primaryKey"`
	OrderID            string                     `gorm:"type:varchar(64);not null;primaryKey"`
	MarketplaceOrderID string                     `gorm:"type:varchar(64);index"`
	State              invoicing.State            `gorm:"type:varchar(20);not null;index"`
	DocumentRef        string                     `gorm:"type:varchar(100)"`
	FocusStatus        invoicing.FocusStatus      `gorm:"type:varchar(40)"`
	XMLAvailable       bool                       `gorm:"not null;default:false"`
	SubmissionStatus   invoicing.SubmissionStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	ErrorMessage       string                     `gorm:"type:text"`
	ForceNewNumber     bool                       `gorm:"not null;default:false"`
	Attempts           int                        `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (InvoiceRecordModel) TableName() string {
	return "invoice_records"
}

// ToDomain converts the model to a domain record
func (m *InvoiceRecordModel) ToDomain() *invoicing.Record {
	return &invoicing.Record{
		TenantID:           m.TenantID,
		Environment:        m.Environment,
		OrderID:            m.OrderID,
		MarketplaceOrderID: m.MarketplaceOrderID,
		State:              m.State,
		DocumentRef:        m.DocumentRef,
		FocusStatus:        m.FocusStatus,
		XMLAvailable:       m.XMLAvailable,
		SubmissionStatus:   m.SubmissionStatus,
		ErrorMessage:       m.ErrorMessage,
		ForceNewNumber:     m.ForceNewNumber,
		Attempts:           m.Attempts,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// InvoiceRecordModelFromDomain converts a domain record to its model
func InvoiceRecordModelFromDomain(r *invoicing.Record) *InvoiceRecordModel {
	return &InvoiceRecordModel{
		TenantModel: TenantModel{
			TenantID:  r.TenantID,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		Environment:        r.Environment,
		OrderID:            r.OrderID,
		MarketplaceOrderID: r.MarketplaceOrderID,
		State:              r.State,
		DocumentRef:        r.DocumentRef,
		FocusStatus:        r.FocusStatus,
		XMLAvailable:       r.XMLAvailable,
		SubmissionStatus:   r.SubmissionStatus,
		ErrorMessage:       r.ErrorMessage,
		ForceNewNumber:     r.ForceNewNumber,
		Attempts:           r.Attempts,
	}
}
