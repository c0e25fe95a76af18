package invoicing

import (
	"time"

	"github.com/google/uuid"
)

// EmissionJobStatus represents the status of an emission job
type EmissionJobStatus string

const (
	EmissionJobPending EmissionJobStatus = "PENDING"
	EmissionJobRunning EmissionJobStatus = "RUNNING"
	EmissionJobSuccess EmissionJobStatus = "SUCCESS"
	EmissionJobPartial EmissionJobStatus = "PARTIAL"
	EmissionJobFailed  EmissionJobStatus = "FAILED"
)

// EmissionJob is one batch of emission requests for a tenant and environment
type EmissionJob struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Environment Environment
	OrderIDs    []string
	Options     EmitOptions
	Status      EmissionJobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	Accepted []string
	Rejected map[string]string
}

// NewEmissionJob creates a new emission job
func NewEmissionJob(tenantID uuid.UUID, env Environment, orderIDs []string, opts EmitOptions, maxRetries int) *EmissionJob {
	return &EmissionJob{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Environment: env,
		OrderIDs:    append([]string(nil), orderIDs...),
		Options:     opts,
		Status:      EmissionJobPending,
		MaxRetries:  maxRetries,
		Rejected:    make(map[string]string),
	}
}

// Start marks the job as running
func (j *EmissionJob) Start() {
	now := time.Now()
	j.Status = EmissionJobRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as finished with the per-order outcome
func (j *EmissionJob) Complete(accepted []string, rejected map[string]string) {
	now := time.Now()
	j.Accepted = accepted
	j.Rejected = rejected
	j.CompletedAt = &now

	switch {
	case len(rejected) == 0:
		j.Status = EmissionJobSuccess
	case len(accepted) > 0:
		j.Status = EmissionJobPartial
	default:
		j.Status = EmissionJobFailed
	}
}

// Fail marks the job as failed
func (j *EmissionJob) Fail(err string) {
	now := time.Now()
	j.Status = EmissionJobFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *EmissionJob) ShouldRetry() bool {
	return j.Status == EmissionJobFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job for retry with exponential backoff, capped at 5 minutes
func (j *EmissionJob) ScheduleRetry(baseDelay time.Duration) {
	j.RetryCount++
	j.Status = EmissionJobPending
	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	next := time.Now().Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
}
