package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func total(sum metricdata.Sum[int64], attrs ...attribute.KeyValue) int64 {
	want := attribute.NewSet(attrs...)
	var n int64
	for _, dp := range sum.DataPoints {
		if len(attrs) == 0 || dp.Attributes.Equals(&want) {
			n += dp.Value
		}
	}
	return n
}

func TestNewFulfillmentMetrics_NilMeter(t *testing.T) {
	m, err := NewFulfillmentMetrics(nil)
	require.Error(t, err)
	assert.Nil(t, m)
}

func TestFulfillmentMetrics_Counters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewFulfillmentMetrics(provider.Meter("test"))
	require.NoError(t, err)
	ctx := context.Background()

	m.RealtimeEvent(ctx, "applied")
	m.RealtimeEvent(ctx, "applied")
	m.RealtimeEvent(ctx, "duplicate")
	m.StaleRunDiscarded(ctx)
	m.OptimisticRolledBack(ctx)
	m.NormalizationFailed(ctx, "shopee")
	m.EmissionSubmitted(ctx, "sandbox", 3)
	m.EmissionSubmitted(ctx, "sandbox", 0)
	m.EmissionFailed(ctx, "production", "VALIDATION_ERROR")
	m.EmissionFailed(ctx, "production", "")
	m.ExternalCall(ctx, "focus", 120*time.Millisecond)

	sums := collect(t, reader)
	assert.Equal(t, int64(2), total(sums["fulfillment_realtime_events_total"], AttrOutcome.String("applied")))
	assert.Equal(t, int64(1), total(sums["fulfillment_realtime_events_total"], AttrOutcome.String("duplicate")))
	assert.Equal(t, int64(1), total(sums["fulfillment_stale_runs_total"]))
	assert.Equal(t, int64(1), total(sums["fulfillment_optimistic_rollbacks_total"]))
	assert.Equal(t, int64(1), total(sums["fulfillment_normalization_failures_total"], AttrSource.String("shopee")))
	assert.Equal(t, int64(3), total(sums["invoicing_emissions_submitted_total"], AttrEnvironment.String("sandbox")))
	assert.Equal(t, int64(1), total(sums["invoicing_emissions_failed_total"],
		AttrEnvironment.String("production"), AttrErrorCode.String("UNKNOWN")))
}

func TestFulfillmentMetrics_NoopMeter(t *testing.T) {
	m, err := NewFulfillmentMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	// Should not panic
	m.RealtimeEvent(context.Background(), "stale")
	m.EmissionFailed(context.Background(), "sandbox", "SERVICE_UNAVAILABLE")
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "fulfillment"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, p.Meter("test"))
	assert.NotNil(t, p.Tracer("test"))

	base := zap.NewNop()
	assert.Same(t, base, p.BridgeLogger(base, zapcore.InfoLevel))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	log := zap.New(core).With(zap.String("tenant_id", "t1"))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "t1", entry.ContextMap()["tenant_id"])
}

func TestStartClientSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartClientSpan(context.Background(), "focus", "emit", attribute.Int(SpanAttrOrderCount, 2))
	assert.NotEmpty(t, TraceID(ctx))
	EndSpan(span, assert.AnError)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "focus.emit", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
	assert.Empty(t, TraceID(context.Background()))
}

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestRegisterDBTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.AutoMigrate(&tracedRow{}))

	require.NoError(t, RegisterDBTracing(db, 0, zap.NewNop()))

	require.NoError(t, db.Create(&tracedRow{Name: "a"}).Error)
	var rows []tracedRow
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	var annotated bool
	for _, s := range spans {
		for _, kv := range s.Attributes() {
			if kv.Key == "db.sql.table" && kv.Value.AsString() == "traced_rows" {
				annotated = true
			}
		}
	}
	assert.True(t, annotated, "spans carry the table name")
}
