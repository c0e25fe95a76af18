package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestJob(maxRetries int) *invoicing.EmissionJob {
	return invoicing.NewEmissionJob(uuid.New(), invoicing.EnvironmentSandbox, []string{"o-1", "o-2"}, invoicing.EmitOptions{}, maxRetries)
}

// mockEmissionExecutor implements EmissionExecutor for testing
type mockEmissionExecutor struct {
	executeFunc func(ctx context.Context, job *invoicing.EmissionJob) error
	execCount   int32
}

func (m *mockEmissionExecutor) ExecuteEmission(ctx context.Context, job *invoicing.EmissionJob) error {
	atomic.AddInt32(&m.execCount, 1)
	if m.executeFunc != nil {
		return m.executeFunc(ctx, job)
	}
	job.Complete(job.OrderIDs, nil)
	return nil
}

// abandoningExecutor also records the jobs the scheduler gives up on
type abandoningExecutor struct {
	mockEmissionExecutor
	mu        sync.Mutex
	abandoned map[uuid.UUID]string
}

func (a *abandoningExecutor) AbandonEmission(ctx context.Context, job *invoicing.EmissionJob, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.abandoned == nil {
		a.abandoned = make(map[uuid.UUID]string)
	}
	a.abandoned[job.ID] = reason
	job.Complete(nil, map[string]string{job.OrderIDs[0]: reason})
}

func (a *abandoningExecutor) reasons() map[uuid.UUID]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uuid.UUID]string, len(a.abandoned))
	for k, v := range a.abandoned {
		out[k] = v
	}
	return out
}

func startScheduler(t *testing.T, cfg EmissionSchedulerConfig, executor EmissionExecutor) *EmissionScheduler {
	t.Helper()
	s, err := NewEmissionScheduler(cfg, executor, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

// ---------------------------------------------------------------------------
// EmissionSchedulerConfig Tests
// ---------------------------------------------------------------------------

func TestEmissionSchedulerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *EmissionSchedulerConfig)
		wantErr bool
	}{
		{"Valid default config", func(c *EmissionSchedulerConfig) {}, false},
		{"Invalid max concurrent jobs", func(c *EmissionSchedulerConfig) { c.MaxConcurrentJobs = 0 }, true},
		{"Invalid queue size", func(c *EmissionSchedulerConfig) { c.QueueSize = 0 }, true},
		{"Invalid job timeout", func(c *EmissionSchedulerConfig) { c.JobTimeout = 0 }, true},
		{"Negative retry delay", func(c *EmissionSchedulerConfig) { c.RetryDelay = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEmissionSchedulerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmissionSchedulerConfigFrom(t *testing.T) {
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{MaxConcurrentJobs: 7, QueueSize: 11, JobTimeout: time.Minute},
		Invoicing: config.InvoicingConfig{RetryDelay: 5 * time.Second},
	}
	c := EmissionSchedulerConfigFrom(cfg)
	assert.Equal(t, 7, c.MaxConcurrentJobs)
	assert.Equal(t, 11, c.QueueSize)
	assert.Equal(t, time.Minute, c.JobTimeout)
	assert.Equal(t, 5*time.Second, c.RetryDelay)
}

// ---------------------------------------------------------------------------
// EmissionScheduler Tests
// ---------------------------------------------------------------------------

func TestNewEmissionScheduler_InvalidConfig(t *testing.T) {
	scheduler, err := NewEmissionScheduler(EmissionSchedulerConfig{}, &mockEmissionExecutor{}, newTestLogger())
	assert.Error(t, err)
	assert.Nil(t, scheduler)
}

func TestEmissionScheduler_StartStop(t *testing.T) {
	scheduler, err := NewEmissionScheduler(DefaultEmissionSchedulerConfig(), &mockEmissionExecutor{}, newTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, scheduler.Start(ctx))
	// Start again should be idempotent
	require.NoError(t, scheduler.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(stopCtx))
	// Stop again should be idempotent
	require.NoError(t, scheduler.Stop(stopCtx))

	assert.Equal(t, ErrSchedulerNotRunning, scheduler.SubmitJob(newTestJob(3)))
}

func TestEmissionScheduler_SubmitJob_NotRunning(t *testing.T) {
	scheduler, err := NewEmissionScheduler(DefaultEmissionSchedulerConfig(), &mockEmissionExecutor{}, newTestLogger())
	require.NoError(t, err)

	err = scheduler.SubmitJob(newTestJob(3))
	assert.Equal(t, ErrSchedulerNotRunning, err)
}

func TestEmissionScheduler_SubmitJob_Success(t *testing.T) {
	executor := &mockEmissionExecutor{}
	scheduler := startScheduler(t, DefaultEmissionSchedulerConfig(), executor)

	job := newTestJob(3)
	require.NoError(t, scheduler.SubmitJob(job))

	require.Eventually(t, func() bool {
		return len(scheduler.GetJobHistory(0)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&executor.execCount))
	history := scheduler.GetJobHistory(10)
	assert.Equal(t, job.ID, history[0].ID)
	assert.Equal(t, invoicing.EmissionJobSuccess, history[0].Status)
}

func TestEmissionScheduler_QueueFull(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.QueueSize = 1

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	executor := &mockEmissionExecutor{
		executeFunc: func(ctx context.Context, job *invoicing.EmissionJob) error {
			started <- struct{}{}
			<-release
			job.Complete(job.OrderIDs, nil)
			return nil
		},
	}
	scheduler := startScheduler(t, cfg, executor)
	defer close(release)

	require.NoError(t, scheduler.SubmitJob(newTestJob(0)))
	<-started
	require.NoError(t, scheduler.SubmitJob(newTestJob(0)))
	assert.Equal(t, 1, scheduler.QueueDepth())
	assert.Equal(t, ErrJobQueueFull, scheduler.SubmitJob(newTestJob(0)))
}

func TestEmissionScheduler_JobRetry(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.RetryDelay = 10 * time.Millisecond

	callCount := int32(0)
	executor := &mockEmissionExecutor{
		executeFunc: func(ctx context.Context, job *invoicing.EmissionJob) error {
			if atomic.AddInt32(&callCount, 1) < 3 {
				return errors.New("temporary failure")
			}
			job.Complete(job.OrderIDs, nil)
			return nil
		},
	}
	scheduler := startScheduler(t, cfg, executor)

	job := newTestJob(5)
	require.NoError(t, scheduler.SubmitJob(job))

	require.Eventually(t, func() bool {
		return len(scheduler.GetJobHistory(0)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(3), atomic.LoadInt32(&callCount))
	finished := scheduler.GetJobHistory(1)[0]
	assert.Equal(t, 2, finished.RetryCount)
	assert.Equal(t, invoicing.EmissionJobSuccess, finished.Status)
}

func TestEmissionScheduler_RetriesExhausted(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.RetryDelay = time.Millisecond

	executor := &mockEmissionExecutor{
		executeFunc: func(ctx context.Context, job *invoicing.EmissionJob) error {
			return errors.New("gateway down")
		},
	}
	scheduler := startScheduler(t, cfg, executor)

	require.NoError(t, scheduler.SubmitJob(newTestJob(2)))
	require.Eventually(t, func() bool {
		return len(scheduler.GetJobHistory(0)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(3), atomic.LoadInt32(&executor.execCount), "one run plus two retries")
	finished := scheduler.GetJobHistory(1)[0]
	assert.Equal(t, invoicing.EmissionJobFailed, finished.Status)
	assert.Equal(t, "gateway down", finished.Error)
}

func TestEmissionScheduler_JobTimeout(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.JobTimeout = 20 * time.Millisecond

	executor := EmissionExecutorFunc(func(ctx context.Context, job *invoicing.EmissionJob) error {
		<-ctx.Done()
		return ctx.Err()
	})
	scheduler := startScheduler(t, cfg, executor)

	require.NoError(t, scheduler.SubmitJob(newTestJob(0)))
	require.Eventually(t, func() bool {
		return len(scheduler.GetJobHistory(0)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, scheduler.GetJobHistory(1)[0].Error, "deadline exceeded")
}

func TestEmissionScheduler_StopAbandonsPendingJobs(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.RetryDelay = time.Hour

	started := make(chan struct{}, 1)
	executor := &abandoningExecutor{}
	executor.executeFunc = func(ctx context.Context, job *invoicing.EmissionJob) error {
		started <- struct{}{}
		return errors.New("focus unavailable")
	}
	scheduler, err := NewEmissionScheduler(cfg, executor, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))

	retried := newTestJob(3)
	require.NoError(t, scheduler.SubmitJob(retried))
	<-started

	// stopping while the retry waits, or before it is scheduled, abandons it
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(ctx))

	reasons := executor.reasons()
	assert.Equal(t, "scheduler stopped before retry", reasons[retried.ID])

	history := scheduler.GetJobHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, retried.ID, history[0].ID)
	assert.Equal(t, invoicing.EmissionJobFailed, history[0].Status)
}

func TestEmissionScheduler_StopDrainsQueue(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.MaxConcurrentJobs = 1

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	executor := &abandoningExecutor{}
	executor.executeFunc = func(ctx context.Context, job *invoicing.EmissionJob) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		job.Complete(job.OrderIDs, nil)
		return nil
	}
	scheduler, err := NewEmissionScheduler(cfg, executor, newTestLogger())
	require.NoError(t, err)
	require.NoError(t, scheduler.Start(context.Background()))

	require.NoError(t, scheduler.SubmitJob(newTestJob(0)))
	<-started
	waiting := newTestJob(0)
	require.NoError(t, scheduler.SubmitJob(waiting))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(ctx))
	close(release)

	reasons := executor.reasons()
	if _, ran := reasons[waiting.ID]; !ran {
		// the worker may pick the job up while shutting down; it then runs once
		assert.GreaterOrEqual(t, atomic.LoadInt32(&executor.execCount), int32(2))
		return
	}
	assert.Equal(t, "scheduler stopped before the job ran", reasons[waiting.ID])
	assert.Equal(t, invoicing.EmissionJobFailed, waiting.Status)
}

func TestEmissionScheduler_HistoryLimit(t *testing.T) {
	cfg := DefaultEmissionSchedulerConfig()
	cfg.HistorySize = 2
	scheduler := startScheduler(t, cfg, &mockEmissionExecutor{})

	for i := 0; i < 4; i++ {
		require.NoError(t, scheduler.SubmitJob(newTestJob(0)))
	}
	require.Eventually(t, func() bool {
		return len(scheduler.GetJobHistory(0)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, scheduler.GetJobHistory(10), 2)
	assert.Len(t, scheduler.GetJobHistory(1), 1)
}

// ---------------------------------------------------------------------------
// StatusPoller Tests
// ---------------------------------------------------------------------------

type syncerFunc func(ctx context.Context) (int, error)

func (f syncerFunc) SyncInFlight(ctx context.Context) (int, error) { return f(ctx) }

func TestNewStatusPoller_InvalidConfig(t *testing.T) {
	_, err := NewStatusPoller(0, time.Second, syncerFunc(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewStatusPoller(time.Second, 0, syncerFunc(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStatusPoller_Polls(t *testing.T) {
	var calls atomic.Int32
	poller, err := NewStatusPoller(10*time.Millisecond, time.Second, syncerFunc(func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("invoicing unavailable")
		}
		return 2, nil
	}), newTestLogger())
	require.NoError(t, err)

	require.NoError(t, poller.Start(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, poller.Stop(ctx))
	require.NoError(t, poller.Stop(ctx))
	assert.False(t, poller.LastRun().IsZero())

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no polls after stop")
}

func TestStatusPoller_PollOnceTimeout(t *testing.T) {
	poller, err := NewStatusPoller(time.Hour, 10*time.Millisecond, syncerFunc(func(ctx context.Context) (int, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return 0, ctx.Err()
	}), nil)
	require.NoError(t, err)

	poller.PollOnce(context.Background())
	assert.False(t, poller.LastRun().IsZero())
}
