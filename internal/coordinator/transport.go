package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

// ErrShardNotAvailable is returned by a Transport for shards that are not
// allocated or not active. Such shards are skipped, not failed.
var ErrShardNotAvailable = errors.New("coordinator: shard not available")

// ShardResponse carries the terms collected on one shard. Ownership of
// Terms moves to the receiver.
type ShardResponse struct {
	Target index.ShardID
	Terms  *termset.TermSet
}

// Transport delivers shard requests to the node holding the shard.
type Transport interface {
	ExecuteShard(ctx context.Context, target index.ShardID, req *shard.Request) (*ShardResponse, error)
}

// LocalTransportOptions configures a LocalTransport.
type LocalTransportOptions struct {
	// Serialize round-trips every shard response through its wire encoding,
	// as a remote hop would. The decoded copy is charged to Budget.
	Serialize bool
	Budget    *resource.Controller
}

// LocalTransport executes shard requests in process.
type LocalTransport struct {
	exec *shard.Executor
	opts LocalTransportOptions

	mu     sync.RWMutex
	shards map[index.ShardID]*index.Shard
}

// NewLocalTransport returns a transport running shard operations with exec.
func NewLocalTransport(exec *shard.Executor, opts LocalTransportOptions) *LocalTransport {
	return &LocalTransport{exec: exec, opts: opts, shards: make(map[index.ShardID]*index.Shard)}
}

// Register makes sh reachable. A shard registered twice is replaced.
func (t *LocalTransport) Register(sh *index.Shard) {
	t.mu.Lock()
	t.shards[sh.ID()] = sh
	t.mu.Unlock()
}

// Unregister removes the shard with the given id.
func (t *LocalTransport) Unregister(id index.ShardID) {
	t.mu.Lock()
	delete(t.shards, id)
	t.mu.Unlock()
}

// Shard returns the registered shard with the given id.
func (t *LocalTransport) Shard(id index.ShardID) (*index.Shard, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sh, ok := t.shards[id]
	return sh, ok
}

// ExecuteShard implements Transport.
func (t *LocalTransport) ExecuteShard(ctx context.Context, target index.ShardID, req *shard.Request) (*ShardResponse, error) {
	sh, ok := t.Shard(target)
	if !ok || !sh.Active() {
		return nil, fmt.Errorf("%w: %s", ErrShardNotAvailable, target)
	}
	set, err := t.exec.Execute(ctx, sh, req)
	if err != nil {
		return nil, err
	}
	if !t.opts.Serialize {
		return &ShardResponse{Target: target, Terms: set}, nil
	}

	data, err := set.Encode()
	set.Release()
	if err != nil {
		return nil, &shard.ExecutionError{Target: target, Cause: err}
	}
	decoded, err := termset.Decode(data, t.opts.Budget)
	if err != nil {
		return nil, &shard.ExecutionError{Target: target, Cause: err}
	}
	return &ShardResponse{Target: target, Terms: decoded}, nil
}
