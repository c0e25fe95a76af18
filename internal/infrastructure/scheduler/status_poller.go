package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InFlightSyncer pulls the authorization status of every in-flight invoice
type InFlightSyncer interface {
	SyncInFlight(ctx context.Context) (int, error)
}

// StatusPoller periodically syncs in-flight invoices with the invoicing service
type StatusPoller struct {
	interval time.Duration
	timeout  time.Duration
	syncer   InFlightSyncer
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
}

// NewStatusPoller creates a poller that runs every interval. Each run is
// bounded by timeout.
func NewStatusPoller(interval, timeout time.Duration, syncer InFlightSyncer, logger *zap.Logger) (*StatusPoller, error) {
	if interval <= 0 || timeout <= 0 {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{interval: interval, timeout: timeout, syncer: syncer, logger: logger}, nil
}

// Start starts the polling loop
func (p *StatusPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.runLoop(ctx)

	p.logger.Info("Invoice status poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop stops the polling loop and waits for a running poll to finish
func (p *StatusPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Invoice status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns when the last poll finished
func (p *StatusPoller) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

func (p *StatusPoller) runLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single sync of the in-flight invoices
func (p *StatusPoller) PollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	settled, err := p.syncer.SyncInFlight(pollCtx)
	if err != nil {
		p.logger.Warn("Invoice status poll failed", zap.Int("settled", settled), zap.Error(err))
	} else if settled > 0 {
		p.logger.Info("Invoice status poll settled invoices",
			zap.Int("settled", settled),
			zap.Duration("duration", time.Since(start)),
		)
	}

	p.mu.Lock()
	p.lastRun = time.Now()
	p.mu.Unlock()
}
