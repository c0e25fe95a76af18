package fulfillment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/fulfillment"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/domain/shared"
	"github.com/erp/fulfillment/internal/infrastructure/logger"
)

// Normalizer converts raw rows from any source into canonical orders
type Normalizer struct {
	adapters map[integration.RowSource]RowAdapter
	loc      *time.Location
	metrics  Recorder
	logger   *zap.Logger
}

// NewNormalizer creates a normalizer with the built-in source adapters
func NewNormalizer(loc *time.Location, metrics Recorder, log *zap.Logger) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if metrics == nil {
		metrics = NopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Normalizer{
		adapters: make(map[integration.RowSource]RowAdapter),
		loc:      loc,
		metrics:  metrics,
		logger:   log,
	}
	n.Register(unifiedAdapter{})
	n.Register(mercadoLivreAdapter{})
	n.Register(shopeeAdapter{})
	return n
}

// Register adds or replaces the adapter for a source
func (n *Normalizer) Register(a RowAdapter) {
	n.adapters[a.Source()] = a
}

// Location returns the timezone used for naive timestamps
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize converts one full row. Rows without an id or marketplace, or with
// unparseable version timestamps, fail with ErrNormalizationFailure.
func (n *Normalizer) Normalize(row integration.RawRow) (*fulfillment.Order, error) {
	o, err := n.adapt(row)
	if err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, shared.Wrap(shared.ErrNormalizationFailure,
			fmt.Sprintf("%s row %q", row.Source(), row.Key()), err)
	}
	return o, nil
}

// NormalizePartial converts a row that carries only changed fields. Only the
// order id is required; it falls back to orderID when the row has none.
func (n *Normalizer) NormalizePartial(row integration.RawRow, orderID string) (*fulfillment.Order, error) {
	o, err := n.adapt(row)
	if err != nil {
		return nil, err
	}
	if o.ID == "" {
		o.ID = orderID
	}
	if o.ID == "" {
		return nil, shared.Wrap(shared.ErrNormalizationFailure, "partial row without order id", fulfillment.ErrOrderInvalidID)
	}
	return o, nil
}

func (n *Normalizer) adapt(row integration.RawRow) (*fulfillment.Order, error) {
	if row == nil {
		return nil, shared.Wrap(shared.ErrNormalizationFailure, "nil row", nil)
	}
	a, ok := n.adapters[row.Source()]
	if !ok {
		return nil, shared.Wrap(shared.ErrNormalizationFailure,
			fmt.Sprintf("no adapter for source %q", row.Source()), integration.ErrUnknownRowSource)
	}
	o, err := a.Adapt(row, n.loc)
	if err != nil {
		return nil, shared.Wrap(shared.ErrNormalizationFailure,
			fmt.Sprintf("%s row %q", row.Source(), row.Key()), err)
	}
	fulfillment.LinkItems(o)
	return o, nil
}

// NormalizeBatch converts a batch, skipping malformed rows. A bad row is
// logged and counted but never fails the batch.
func (n *Normalizer) NormalizeBatch(ctx context.Context, rows []integration.RawRow) (orders []*fulfillment.Order, skipped int) {
	orders = make([]*fulfillment.Order, 0, len(rows))
	for _, row := range rows {
		o, err := n.Normalize(row)
		if err != nil {
			skipped++
			n.reportFailure(ctx, row, err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, skipped
}

func (n *Normalizer) reportFailure(ctx context.Context, row integration.RawRow, err error) {
	source := "unknown"
	key := ""
	if row != nil {
		source = string(row.Source())
		key = row.Key()
	}
	n.metrics.NormalizationFailed(ctx, source)
	logger.FromContext(ctx, n.logger).Warn("skipping malformed order row",
		zap.String("source", source),
		zap.String("row_key", key),
		zap.Error(err),
	)
}
