// Package resource implements the node-wide budgets shared by every term
// collection running on a node: a byte budget for in-flight term sets (the
// request circuit breaker), a bounded number of worker slots, and an IO rate
// limit for segment loading.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would push the
// managed memory above the configured limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for term collection memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxWorkers is the maximum number of concurrent shard operations.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec is the maximum read throughput while loading segments.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// BudgetError reports a rejected reservation.
type BudgetError struct {
	Label     string
	Requested int64
	Used      int64
	Limit     int64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("resource: [%s] would use %d bytes, which is larger than the limit of %d bytes (in use %d)",
		e.Label, e.Used+e.Requested, e.Limit, e.Used)
}

func (e *BudgetError) Unwrap() error { return ErrMemoryLimitExceeded }

// Controller manages node resources. A nil *Controller tracks nothing and
// never rejects.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	denied  atomic.Int64

	// Workers
	workerSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	c := &Controller{
		cfg:       cfg,
		workerSem: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Reserve atomically checks and reserves bytes without blocking.
// The label names the reserving component in the returned *BudgetError.
func (c *Controller) Reserve(label string, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		c.denied.Add(1)
		return &BudgetError{
			Label:     label,
			Requested: bytes,
			Used:      c.memUsed.Load(),
			Limit:     c.cfg.MemoryLimitBytes,
		}
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory refunds bytes previously reserved.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured limit, 0 meaning unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// Rejections returns how many reservations were denied so far.
func (c *Controller) Rejections() int64 {
	if c == nil {
		return 0
	}
	return c.denied.Load()
}

// MaxWorkers returns the number of worker slots.
func (c *Controller) MaxWorkers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxWorkers)
}

// AcquireWorker reserves a worker slot, blocking until one is free or ctx
// is done.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workerSem.Acquire(ctx, 1)
}

// ReleaseWorker releases a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workerSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects n larger than the burst; split big reads.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
