package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolBasic(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	done := make(chan int, 1)
	if err := pool.Submit(context.Background(), func() { done <- 42 }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for task")
	}
}

func TestWorkerPoolConcurrency(t *testing.T) {
	const numWorkers = 4
	const numTasks = 100

	pool := NewWorkerPool(numWorkers)
	defer pool.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numTasks)
	for i := 0; i < numTasks; i++ {
		if err := pool.Submit(context.Background(), func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}
	wg.Wait()

	if p := peak.Load(); p > numWorkers {
		t.Errorf("Expected at most %d concurrent tasks, got %d", numWorkers, p)
	}
}

func TestWorkerPoolSubmitCancelled(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	block := make(chan struct{})
	defer close(block)
	// One task occupies the worker, two fill the queue.
	for i := 0; i < 3; i++ {
		if err := pool.Submit(context.Background(), func() { <-block }); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestWorkerPoolShutdown(t *testing.T) {
	pool := NewWorkerPool(2)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if err := pool.Submit(context.Background(), func() { ran.Add(1) }); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	pool.Close()
	pool.Close()

	if n := ran.Load(); n != 10 {
		t.Errorf("Expected queued tasks to run before exit, ran %d", n)
	}
	if err := pool.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestWorkerPoolQueued(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	started := make(chan struct{})
	block := make(chan struct{})
	if err := pool.Submit(context.Background(), func() { close(started); <-block }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	if err := pool.Submit(context.Background(), func() {}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if n := pool.Queued(); n != 1 {
		t.Errorf("Expected 1 queued task, got %d", n)
	}
	close(block)

	if pool.Size() != 1 {
		t.Errorf("Expected size 1, got %d", pool.Size())
	}
}
