package persistence

import (
	"context"
	"errors"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInvoiceRecordRepository implements invoicing.RecordRepository using GORM
type GormInvoiceRecordRepository struct {
	db *gorm.DB
}

// NewGormInvoiceRecordRepository creates a new GormInvoiceRecordRepository
func NewGormInvoiceRecordRepository(db *gorm.DB) *GormInvoiceRecordRepository {
	return &GormInvoiceRecordRepository{db: db}
}

// Get finds the record of an order in an environment
func (r *GormInvoiceRecordRepository) Get(ctx context.Context, tenantID uuid.UUID, env invoicing.Environment, orderID string) (*invoicing.Record, error) {
	var model models.InvoiceRecordModel
	err := r.db.WithContext(ctx).
		Scopes(tenantScope(tenantID)).
		Where("environment = ? AND order_id = ?", env, orderID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts the record or overwrites every column of the existing one
func (r *GormInvoiceRecordRepository) Save(ctx context.Context, record *invoicing.Record) error {
	model := models.InvoiceRecordModelFromDomain(record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "environment"}, {Name: "order_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

// ListByStates returns the records in any of the given states across tenants
func (r *GormInvoiceRecordRepository) ListByStates(ctx context.Context, states ...invoicing.State) ([]*invoicing.Record, error) {
	if len(states) == 0 {
		return nil, nil
	}
	var rows []models.InvoiceRecordModel
	if err := r.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("tenant_id, environment, order_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*invoicing.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

var _ invoicing.RecordRepository = (*GormInvoiceRecordRepository)(nil)
