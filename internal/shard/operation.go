// Package shard runs one terms-by-query collection against one shard.
package shard

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/collector"
	"github.com/SentiOne/siren-join/internal/hits"
	"github.com/SentiOne/siren-join/internal/termstream"
	"github.com/SentiOne/siren-join/query"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

// State is the lifecycle state of an Operation.
type State uint8

const (
	Init State = iota
	FieldResolved
	ContextBuilt
	QueryApplied
	Collecting
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case FieldResolved:
		return "field_resolved"
	case ContextBuilt:
		return "context_built"
	case QueryApplied:
		return "query_applied"
	case Collecting:
		return "collecting"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Request is the shard-level part of a terms-by-query request. It is not
// modified by the operation.
type Request struct {
	Types         []string
	Field         string
	Source        []byte
	Encoding      termset.Encoding
	ExpectedTerms int64
	MaxTerms      int64
	Ranked        bool
	NowMillis     int64
}

// ExecutionError wraps any failure of a shard operation with the shard it
// ran on.
type ExecutionError struct {
	Target index.ShardID
	Cause  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("shard %s: %v", e.Target, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Observer is notified of every state transition.
type Observer func(target index.ShardID, s State)

// Executor runs shard operations. The zero value is usable.
type Executor struct {
	Budget   *resource.Controller
	Logger   *slog.Logger
	Observer Observer
	// Done, if set, is called once per operation with its duration and
	// final error.
	Done func(target index.ShardID, took time.Duration, err error)
}

// Execute collects the terms of req.Field over the documents of sh that
// match req. An empty source matches every document and skips the
// QueryApplied state. The returned set is owned by the caller. The shard
// searcher is closed and the query parser returned on every path.
func (e *Executor) Execute(ctx context.Context, sh *index.Shard, req *Request) (*termset.TermSet, error) {
	op := &operation{exec: e, shard: sh, req: req, start: time.Now()}
	set, err := op.run(ctx)
	if err != nil {
		op.transition(Failed)
		op.logger().Debug("shard operation failed", "shard", sh.ID().String(), "error", err)
		err = &ExecutionError{Target: sh.ID(), Cause: err}
		e.done(sh.ID(), time.Since(op.start), err)
		return nil, err
	}
	op.transition(Completed)
	e.done(sh.ID(), time.Since(op.start), nil)
	op.logger().Debug("shard operation completed",
		"shard", sh.ID().String(),
		"terms", set.Size(),
		"bytes", set.Footprint(),
		"took", time.Since(op.start))
	return set, nil
}

func (e *Executor) done(target index.ShardID, took time.Duration, err error) {
	if e.Done != nil {
		e.Done(target, took, err)
	}
}

type operation struct {
	exec  *Executor
	shard *index.Shard
	req   *Request
	state State
	start time.Time
}

func (op *operation) logger() *slog.Logger {
	if op.exec.Logger != nil {
		return op.exec.Logger
	}
	return slog.Default()
}

func (op *operation) transition(s State) {
	op.state = s
	if op.exec.Observer != nil {
		op.exec.Observer(op.shard.ID(), s)
	}
}

func (op *operation) run(ctx context.Context) (*termset.TermSet, error) {
	req := op.req
	op.transition(Init)

	// One worker slot of the owning node per running operation.
	if err := op.exec.Budget.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	defer op.exec.Budget.ReleaseWorker()

	ft, err := op.shard.Mapping().Resolve(req.Field, req.Types)
	if err != nil {
		return nil, err
	}
	op.transition(FieldResolved)

	searcher, err := op.shard.Acquire()
	if err != nil {
		return nil, err
	}
	defer searcher.Close()
	values, err := termstream.ForField(req.Field, ft, searcher)
	if err != nil {
		return nil, err
	}
	qc := query.NewContext(searcher, req.Types, req.NowMillis)
	op.transition(ContextBuilt)

	var q query.Query = query.MatchAll{}
	if len(bytes.TrimSpace(req.Source)) > 0 {
		parser := query.AcquireParser()
		q, err = parser.Parse(req.Source)
		parser.Release()
		if err != nil {
			return nil, err
		}
		op.transition(QueryApplied)
	}

	strategy := hits.Unordered
	if req.Ranked {
		strategy = hits.Ranked
	}
	hs, err := hits.New(strategy, hits.FromQuery(qc, q), req.MaxTerms)
	if err != nil {
		return nil, err
	}
	op.transition(Collecting)

	c := collector.New(req.Encoding, values, op.exec.Budget, collector.Options{
		ExpectedTerms: req.ExpectedTerms,
		MaxTerms:      req.MaxTerms,
	})
	return c.Collect(ctx, hs)
}
