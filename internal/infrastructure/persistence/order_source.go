package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormOrderSource reads full snapshots of a tenant's orders from the
// unified order view
type GormOrderSource struct {
	db     *gorm.DB
	view   string
	logger *zap.Logger
}

// NewGormOrderSource creates an order source over view. An empty view name
// uses the model's default table.
func NewGormOrderSource(db *gorm.DB, view string, logger *zap.Logger) *GormOrderSource {
	if view == "" {
		view = models.UnifiedOrderRowModel{}.TableName()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormOrderSource{db: db, view: view, logger: logger}
}

// FetchOrders implements integration.OrderFetcher. Rows are returned newest
// first. A row whose JSON columns cannot be decoded is still returned with
// what could be read; the normalizer decides whether it is usable.
func (s *GormOrderSource) FetchOrders(ctx context.Context, filter integration.OrderFilter) ([]integration.RawRow, error) {
	var rows []models.UnifiedOrderRowModel
	query := s.db.WithContext(ctx).
		Table(s.view).
		Scopes(tenantScope(filter.TenantID))

	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}
	if filter.Marketplace != "" {
		query = query.Where("marketplace = ?", string(filter.Marketplace))
	}
	if len(filter.OrderIDs) > 0 {
		query = query.Where("id IN ? OR marketplace_order_id IN ?", filter.OrderIDs, filter.OrderIDs)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Order("created_at DESC").Order("id").Find(&rows).Error; err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrDataSourceUnavailable, err)
	}

	out := make([]integration.RawRow, 0, len(rows))
	for i := range rows {
		raw, err := rows[i].ToRaw()
		if err != nil {
			s.logger.Warn("order row has undecodable columns",
				zap.String("order_id", rows[i].ID),
				zap.Error(err),
			)
		}
		out = append(out, raw)
	}
	return out, nil
}

var _ integration.OrderFetcher = (*GormOrderSource)(nil)
