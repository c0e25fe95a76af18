package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSlowQueryThreshold marks order view scans that take longer than this
const DefaultSlowQueryThreshold = 200 * time.Millisecond

type queryStartKey struct{}

// RegisterDBTracing installs the otelgorm plugin on db plus callbacks that
// annotate each span with the table, rows affected and a slow query marker
// before otelgorm ends it. Query variables are never exported.
func RegisterDBTracing(db *gorm.DB, slowQuery time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slowQuery <= 0 {
		slowQuery = DefaultSlowQueryThreshold
	}

	if err := db.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName("postgresql"),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return err
	}

	before := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	after := func(tx *gorm.DB) { annotateSpan(tx, slowQuery) }

	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("fulfillment_timing:before_create", before); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("fulfillment_timing:before_query", before); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("fulfillment_timing:before_update", before); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("fulfillment_timing:before_row", before); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Before("otel:after:create").Register("fulfillment_timing:after_create", after); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Before("otel:after:select").Register("fulfillment_timing:after_query", after); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Before("otel:after:update").Register("fulfillment_timing:after_update", after); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Before("otel:after:row").Register("fulfillment_timing:after_row", after); err != nil {
		return err
	}

	logger.Info("Database tracing enabled", zap.Duration("slow_query_threshold", slowQuery))
	return nil
}

func annotateSpan(tx *gorm.DB, slowQuery time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if tx.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
	}
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, tx.Error.Error())
		span.RecordError(tx.Error)
	}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		if elapsed := time.Since(start); elapsed > slowQuery {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
			)
		}
	}
}
