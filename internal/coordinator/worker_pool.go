package coordinator

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("coordinator: worker pool closed")

// WorkerPool runs shard operations on a fixed set of goroutines shared by
// every request of a node. Its queue holds two tasks per worker.
type WorkerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup

	// mu orders Submit against Close so no task is sent on a closed queue.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts size goroutines; 0 or less means GOMAXPROCS.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	wp := &WorkerPool{size: size, tasks: make(chan func(), size*2)}
	wp.wg.Add(size)
	for range size {
		go func() {
			defer wp.wg.Done()
			for task := range wp.tasks {
				task()
			}
		}()
	}
	return wp
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.size }

// Queued returns the number of tasks waiting for a worker.
func (wp *WorkerPool) Queued() int { return len(wp.tasks) }

// Submit enqueues task, blocking while the queue is full. It fails when the
// pool is closed or ctx is done before the task was queued.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case wp.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is queued and waits for the
// workers to exit. Extra calls are no-ops.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.tasks)
	wp.mu.Unlock()
	wp.wg.Wait()
}
