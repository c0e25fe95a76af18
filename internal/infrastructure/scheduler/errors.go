package scheduler

import (
	"errors"

	"github.com/erp/fulfillment/internal/domain/shared"
)

// Queue rejections carry the service unavailable code so callers treat them
// as retryable.
var (
	ErrSchedulerNotRunning = shared.Wrap(shared.ErrServiceUnavailable, "emission scheduler is not running", nil)
	ErrJobQueueFull        = shared.Wrap(shared.ErrServiceUnavailable, "emission queue is full", nil)
)

// ErrInvalidConfig is returned for non-positive worker, queue or interval settings
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")
