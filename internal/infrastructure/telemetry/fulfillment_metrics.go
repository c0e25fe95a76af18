package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/erp/fulfillment/internal/application/fulfillment"
	"github.com/erp/fulfillment/internal/application/invoicing"
	"go.opentelemetry.io/otel/metric"
)

// FulfillmentMetrics records reconciliation and invoicing counters. It
// implements both fulfillment.Recorder and invoicing.Recorder.
type FulfillmentMetrics struct {
	realtimeEvents       *Counter
	staleRuns            *Counter
	optimisticRollbacks  *Counter
	normalizationFailed  *Counter
	emissionsSubmitted   *Counter
	emissionsFailed      *Counter
	externalCallDuration *Histogram
}

// NewFulfillmentMetrics creates the instruments on meter
func NewFulfillmentMetrics(meter metric.Meter) (*FulfillmentMetrics, error) {
	if meter == nil {
		return nil, errors.New("NewFulfillmentMetrics: meter cannot be nil")
	}
	m := &FulfillmentMetrics{}
	var err error
	if m.realtimeEvents, err = NewCounter(meter, "fulfillment_realtime_events_total",
		"Realtime order change events by outcome", "{event}"); err != nil {
		return nil, err
	}
	if m.staleRuns, err = NewCounter(meter, "fulfillment_stale_runs_total",
		"Load responses discarded because a newer load started", "{run}"); err != nil {
		return nil, err
	}
	if m.optimisticRollbacks, err = NewCounter(meter, "fulfillment_optimistic_rollbacks_total",
		"Optimistic mutations rolled back after the confirmation window", "{mutation}"); err != nil {
		return nil, err
	}
	if m.normalizationFailed, err = NewCounter(meter, "fulfillment_normalization_failures_total",
		"Source rows skipped because they could not be normalized", "{row}"); err != nil {
		return nil, err
	}
	if m.emissionsSubmitted, err = NewCounter(meter, "invoicing_emissions_submitted_total",
		"Documents accepted by the invoicing service", "{document}"); err != nil {
		return nil, err
	}
	if m.emissionsFailed, err = NewCounter(meter, "invoicing_emissions_failed_total",
		"Emission failures by error code", "{failure}"); err != nil {
		return nil, err
	}
	if m.externalCallDuration, err = NewHistogram(meter, "external_call_duration_seconds",
		"Latency of calls to the invoicing and marketplace services", "s", ExternalCallBuckets...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FulfillmentMetrics) RealtimeEvent(ctx context.Context, outcome string) {
	m.realtimeEvents.Inc(ctx, AttrOutcome.String(outcome))
}

func (m *FulfillmentMetrics) StaleRunDiscarded(ctx context.Context) {
	m.staleRuns.Inc(ctx)
}

func (m *FulfillmentMetrics) OptimisticRolledBack(ctx context.Context) {
	m.optimisticRollbacks.Inc(ctx)
}

func (m *FulfillmentMetrics) NormalizationFailed(ctx context.Context, source string) {
	m.normalizationFailed.Inc(ctx, AttrSource.String(source))
}

func (m *FulfillmentMetrics) EmissionSubmitted(ctx context.Context, env string, count int) {
	if count <= 0 {
		return
	}
	m.emissionsSubmitted.Add(ctx, int64(count), AttrEnvironment.String(env))
}

func (m *FulfillmentMetrics) EmissionFailed(ctx context.Context, env string, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	m.emissionsFailed.Inc(ctx, AttrEnvironment.String(env), AttrErrorCode.String(code))
}

// ExternalCall records the latency of one call to an external service
func (m *FulfillmentMetrics) ExternalCall(ctx context.Context, service string, d time.Duration) {
	m.externalCallDuration.RecordDuration(ctx, d, AttrSource.String(service))
}

var (
	_ fulfillment.Recorder = (*FulfillmentMetrics)(nil)
	_ invoicing.Recorder   = (*FulfillmentMetrics)(nil)
)
