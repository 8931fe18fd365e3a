package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

// Failure is one failed shard.
type Failure struct {
	Target index.ShardID
	Err    error
}

// Result is the merged outcome of a fan-out.
type Result struct {
	// Encoded is the wire encoding of the merged term set.
	Encoded  []byte
	Encoding termset.Encoding
	// Size is the number of merged terms; an estimate for Bloom sets.
	Size       int64
	TookMillis int64

	Total      int
	Successful int
	Failed     int
	Failures   []Failure
}

// Options configures a Coordinator.
type Options struct {
	// Budget is charged for the merge accumulator.
	Budget *resource.Controller
	Logger *slog.Logger
	// Timeout bounds the wait for shard responses; shards that have not
	// answered by then are skipped. 0 waits for all of them.
	Timeout time.Duration
}

// Coordinator fans a shard request out to target shards and merges the
// collected term sets.
type Coordinator struct {
	pool      *WorkerPool
	transport Transport
	budget    *resource.Controller
	logger    *slog.Logger
	timeout   time.Duration

	onFold func(ordinal int, target index.ShardID)
}

// New returns a coordinator that runs shard requests on pool.
func New(pool *WorkerPool, transport Transport, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pool:      pool,
		transport: transport,
		budget:    opts.Budget,
		logger:    logger,
		timeout:   opts.Timeout,
	}
}

type outcome struct {
	set  *termset.TermSet
	err  error
	done bool
}

// Execute sends req to every target and merges the responses in target
// order. Shard failures are reported in the result; an error is returned
// only when ctx is done or the merge itself fails. Every term set created
// along the way is released before Execute returns.
func (c *Coordinator) Execute(ctx context.Context, targets []index.ShardID, req *shard.Request) (*Result, error) {
	outcomes := c.gather(ctx, targets, req)
	if err := ctx.Err(); err != nil {
		for i := range outcomes {
			if outcomes[i].set != nil {
				outcomes[i].set.Release()
			}
		}
		return nil, err
	}

	res := &Result{Encoding: req.Encoding, Total: len(targets)}
	parts := make([]*termset.TermSet, len(targets))
	for i, o := range outcomes {
		switch {
		case o.set != nil:
			parts[i] = o.set
			res.Successful++
		case c.absent(o):
			c.logger.Debug("shard skipped", "shard", targets[i].String(), "error", o.err)
		default:
			res.Failed++
			res.Failures = append(res.Failures, Failure{Target: targets[i], Err: o.err})
		}
	}

	acc, err := c.merge(req, targets, parts)
	if err != nil {
		return nil, err
	}
	res.Size = acc.Size()
	res.Encoded, err = acc.Encode()
	acc.Release()
	if err != nil {
		return nil, fmt.Errorf("coordinator: encode: %w", err)
	}
	res.TookMillis = max(time.Now().UnixMilli()-req.NowMillis, 0)
	return res, nil
}

// absent reports whether a shard is treated as missing rather than failed:
// it was not available, or did not answer before the wait was abandoned.
func (c *Coordinator) absent(o outcome) bool {
	if !o.done {
		return true
	}
	return errors.Is(o.err, ErrShardNotAvailable) ||
		errors.Is(o.err, context.DeadlineExceeded) ||
		errors.Is(o.err, context.Canceled)
}

// gather runs the shard requests and buffers their outcomes by ordinal.
// Responses arriving after the wait is abandoned are released by their
// sender.
func (c *Coordinator) gather(ctx context.Context, targets []index.ShardID, req *shard.Request) []outcome {
	shardCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		shardCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	outcomes := make([]outcome, len(targets))
	var (
		mu        sync.Mutex
		abandoned bool
		wg        sync.WaitGroup
	)
	for i, target := range targets {
		wg.Add(1)
		err := c.pool.Submit(shardCtx, func() {
			defer wg.Done()
			resp, err := c.transport.ExecuteShard(shardCtx, target, req)

			mu.Lock()
			defer mu.Unlock()
			if abandoned {
				if resp != nil {
					resp.Terms.Release()
				}
				return
			}
			if err != nil {
				outcomes[i] = outcome{err: err, done: true}
				return
			}
			outcomes[i] = outcome{set: resp.Terms, done: true}
		})
		if err != nil {
			wg.Done()
			if shardCtx.Err() == nil {
				mu.Lock()
				outcomes[i] = outcome{err: &shard.ExecutionError{Target: target, Cause: err}, done: true}
				mu.Unlock()
			}
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shardCtx.Done():
	}

	mu.Lock()
	abandoned = true
	mu.Unlock()
	return outcomes
}

// merge folds parts into a new accumulator in ordinal order, releasing each
// part once folded. Nil parts are skipped. On error every part and the
// accumulator are released.
func (c *Coordinator) merge(req *shard.Request, targets []index.ShardID, parts []*termset.TermSet) (*termset.TermSet, error) {
	defer func() {
		for i, p := range parts {
			if p != nil {
				p.Release()
				parts[i] = nil
			}
		}
	}()

	hint := req.ExpectedTerms
	if hint <= 0 && req.Encoding != termset.Bloom {
		for _, p := range parts {
			if p != nil {
				hint += p.Size()
			}
		}
	}
	acc, err := termset.New(req.Encoding, hint, c.budget)
	if err != nil {
		return nil, fmt.Errorf("coordinator: merge: %w", err)
	}
	for i, p := range parts {
		if p == nil {
			continue
		}
		if c.onFold != nil {
			c.onFold(i, targets[i])
		}
		if err := acc.Merge(p); err != nil {
			acc.Release()
			return nil, fmt.Errorf("coordinator: merge %s: %w", targets[i], err)
		}
		p.Release()
		parts[i] = nil
	}
	return acc, nil
}
