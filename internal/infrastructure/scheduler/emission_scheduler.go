package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erp/fulfillment/internal/domain/invoicing"
	"github.com/erp/fulfillment/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// EmissionExecutor Interface
// ---------------------------------------------------------------------------

// EmissionExecutor executes emission jobs. A returned error marks the job
// failed; it is retried while it has retries left.
type EmissionExecutor interface {
	ExecuteEmission(ctx context.Context, job *invoicing.EmissionJob) error
}

// EmissionAbandoner is implemented by executors that settle the orders of a
// job the scheduler gives up on without running it again.
type EmissionAbandoner interface {
	AbandonEmission(ctx context.Context, job *invoicing.EmissionJob, reason string)
}

// EmissionExecutorFunc adapts a function to EmissionExecutor
type EmissionExecutorFunc func(ctx context.Context, job *invoicing.EmissionJob) error

// ExecuteEmission calls f(ctx, job)
func (f EmissionExecutorFunc) ExecuteEmission(ctx context.Context, job *invoicing.EmissionJob) error {
	return f(ctx, job)
}

// ---------------------------------------------------------------------------
// EmissionSchedulerConfig
// ---------------------------------------------------------------------------

// EmissionSchedulerConfig holds configuration for the emission scheduler
type EmissionSchedulerConfig struct {
	// MaxConcurrentJobs is the number of workers
	MaxConcurrentJobs int
	// QueueSize bounds the number of pending jobs
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// HistorySize is how many finished jobs are kept for monitoring
	HistorySize int
}

// DefaultEmissionSchedulerConfig returns default configuration
func DefaultEmissionSchedulerConfig() EmissionSchedulerConfig {
	return EmissionSchedulerConfig{
		MaxConcurrentJobs: 3,
		QueueSize:         100,
		JobTimeout:        2 * time.Minute,
		RetryDelay:        30 * time.Second,
		HistorySize:       100,
	}
}

// EmissionSchedulerConfigFrom builds the scheduler configuration from the
// application configuration
func EmissionSchedulerConfigFrom(cfg *config.Config) EmissionSchedulerConfig {
	c := DefaultEmissionSchedulerConfig()
	c.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
	c.QueueSize = cfg.Scheduler.QueueSize
	c.JobTimeout = cfg.Scheduler.JobTimeout
	c.RetryDelay = cfg.Invoicing.RetryDelay
	return c
}

// Validate validates the configuration
func (c *EmissionSchedulerConfig) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return ErrInvalidConfig
	}
	if c.QueueSize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// EmissionScheduler
// ---------------------------------------------------------------------------

// EmissionScheduler runs emission jobs on a bounded worker pool
type EmissionScheduler struct {
	config   EmissionSchedulerConfig
	executor EmissionExecutor
	logger   *zap.Logger

	jobs      chan *invoicing.EmissionJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	retries   sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Job history for monitoring (in-memory, limited size)
	historyMu sync.RWMutex
	history   []*invoicing.EmissionJob
}

// NewEmissionScheduler creates a new emission scheduler
func NewEmissionScheduler(config EmissionSchedulerConfig, executor EmissionExecutor, logger *zap.Logger) (*EmissionScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmissionScheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *invoicing.EmissionJob, config.QueueSize),
		history:  make([]*invoicing.EmissionJob, 0, config.HistorySize),
	}, nil
}

// Start starts the scheduler
func (s *EmissionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Emission scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *EmissionScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// workers schedule retries, and a final attempt runs as a worker
		s.wg.Wait()
		s.retries.Wait()
		s.wg.Wait()
		s.drain()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Emission scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Emission scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitJob queues a job for execution without blocking
func (s *EmissionScheduler) SubmitJob(job *invoicing.EmissionJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("Emission job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.TenantID.String()),
			zap.String("environment", string(job.Environment)),
			zap.Int("orders", len(job.OrderIDs)),
		)
		return nil
	default:
		return ErrJobQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker
func (s *EmissionScheduler) QueueDepth() int {
	return len(s.jobs)
}

func (s *EmissionScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *EmissionScheduler) processJob(ctx context.Context, job *invoicing.EmissionJob, workerID int) {
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("environment", string(job.Environment)),
	)

	job.Start()
	log.Info("Processing emission job", zap.Int("orders", len(job.OrderIDs)), zap.Int("retry_count", job.RetryCount))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.ExecuteEmission(jobCtx, job)
	cancel()

	if err == nil {
		log.Info("Emission job completed",
			zap.String("status", string(job.Status)),
			zap.Int("accepted", len(job.Accepted)),
			zap.Int("rejected", len(job.Rejected)),
		)
		s.addToHistory(job)
		return
	}

	job.Fail(err.Error())
	log.Error("Emission job failed", zap.Error(err))

	if job.ShouldRetry() {
		if ctx.Err() != nil {
			s.abandon(job, "scheduler stopped before retry")
			return
		}
		job.ScheduleRetry(s.config.RetryDelay)
		log.Info("Emission job scheduled for retry",
			zap.Int("retry_count", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Time("next_retry_at", *job.NextRetryAt),
		)
		s.scheduleRetry(ctx, job)
		return
	}
	s.addToHistory(job)
}

// scheduleRetry resubmits the job once its retry time is reached. When the
// queue cannot take it back, the job runs once more as its final attempt so
// its orders are settled instead of left queued.
func (s *EmissionScheduler) scheduleRetry(ctx context.Context, job *invoicing.EmissionJob) {
	s.retries.Add(1)
	go func() {
		defer s.retries.Done()

		timer := time.NewTimer(time.Until(*job.NextRetryAt))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.abandon(job, "scheduler stopped before retry")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			s.abandon(job, "scheduler stopped before retry")
			return
		}

		if err := s.SubmitJob(job); err != nil {
			s.logger.Warn("Failed to re-queue emission job, running final attempt",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			job.MaxRetries = job.RetryCount
			s.wg.Add(1)
			defer s.wg.Done()
			s.processJob(ctx, job, -1)
		}
	}()
}

// drain abandons the jobs still waiting in the queue once the workers exited
func (s *EmissionScheduler) drain() {
	for {
		select {
		case job := <-s.jobs:
			s.abandon(job, "scheduler stopped before the job ran")
		default:
			return
		}
	}
}

func (s *EmissionScheduler) abandon(job *invoicing.EmissionJob, reason string) {
	s.logger.Warn("Abandoning emission job",
		zap.String("job_id", job.ID.String()),
		zap.String("reason", reason),
	)
	if a, ok := s.executor.(EmissionAbandoner); ok {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
		a.AbandonEmission(ctx, job, reason)
		cancel()
	} else {
		job.Fail(reason)
	}
	s.addToHistory(job)
}

func (s *EmissionScheduler) addToHistory(job *invoicing.EmissionJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*invoicing.EmissionJob{job}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
}

// GetJobHistory returns recent finished jobs, newest first
func (s *EmissionScheduler) GetJobHistory(limit int) []*invoicing.EmissionJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*invoicing.EmissionJob, limit)
	copy(result, s.history[:limit])
	return result
}
