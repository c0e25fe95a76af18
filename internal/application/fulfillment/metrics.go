package fulfillment

import "context"

// Realtime event outcomes
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// Recorder receives reconciliation metrics
type Recorder interface {
	RealtimeEvent(ctx context.Context, outcome string)
	StaleRunDiscarded(ctx context.Context)
	OptimisticRolledBack(ctx context.Context)
	NormalizationFailed(ctx context.Context, source string)
}

// NopRecorder discards every metric
type NopRecorder struct{}

func (NopRecorder) RealtimeEvent(context.Context, string)       {}
func (NopRecorder) StaleRunDiscarded(context.Context)           {}
func (NopRecorder) OptimisticRolledBack(context.Context)        {}
func (NopRecorder) NormalizationFailed(context.Context, string) {}
