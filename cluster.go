package sirenjoin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/SentiOne/siren-join/blobstore"
	"github.com/SentiOne/siren-join/cache"
	"github.com/SentiOne/siren-join/codec"
	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/coordinator"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/resource"
)

// IndexConfig describes one index of a cluster.
type IndexConfig struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	// Shards is the number of shards; 0 means 1.
	Shards int `json:"shards,omitempty" yaml:"shards,omitempty"`
	// ReadBlocked rejects every request targeting the index.
	ReadBlocked bool          `json:"read_blocked,omitempty" yaml:"read_blocked,omitempty"`
	Mapping     index.Mapping `json:"mapping" yaml:"mapping"`
	// DefaultType is the type of loaded documents without a "_type".
	DefaultType string `json:"default_type,omitempty" yaml:"default_type,omitempty"`
}

// Config describes the nodes and indices of a cluster.
type Config struct {
	// Nodes are node ids; the first node coordinates requests. None means a
	// single node.
	Nodes   []string      `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Indices []IndexConfig `json:"indices" yaml:"indices"`
}

func (cfg *Config) validate() error {
	var errs []error
	seenNodes := make(map[string]struct{}, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n == "" {
			errs = append(errs, errors.New("node id must not be empty"))
			continue
		}
		if _, dup := seenNodes[n]; dup {
			errs = append(errs, fmt.Errorf("duplicate node [%s]", n))
		}
		seenNodes[n] = struct{}{}
	}
	seen := make(map[string]struct{}, len(cfg.Indices))
	for _, ic := range cfg.Indices {
		if ic.Name == "" {
			errs = append(errs, errors.New("index name must not be empty"))
			continue
		}
		if strings.ContainsAny(ic.Name, ",*") || strings.HasPrefix(ic.Name, "_") {
			errs = append(errs, fmt.Errorf("invalid index name [%s]", ic.Name))
		}
		if _, dup := seen[ic.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate index [%s]", ic.Name))
		}
		seen[ic.Name] = struct{}{}
		if ic.Shards < 0 {
			errs = append(errs, fmt.Errorf("index [%s]: shards must be non-negative, got %d", ic.Name, ic.Shards))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// node is one member of the cluster: its shards, memory budget and filter
// join cache.
type node struct {
	id        string
	budget    *resource.Controller
	cache     *cache.Service
	transport *coordinator.LocalTransport
	shards    []*index.Shard
}

// clusterTransport delivers shard requests to the node owning the shard.
type clusterTransport struct {
	owners map[index.ShardID]*node
}

func (t *clusterTransport) ExecuteShard(ctx context.Context, target index.ShardID, req *shard.Request) (*coordinator.ShardResponse, error) {
	n, ok := t.owners[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coordinator.ErrShardNotAvailable, target)
	}
	return n.transport.ExecuteShard(ctx, target, req)
}

// Cluster is an in-process cluster of nodes holding index shards. The first
// node coordinates terms-by-query requests: it fans shard requests out to
// the owning nodes and merges their term sets under its memory budget.
// Responses from other nodes cross a serialized hop.
//
// A Cluster is safe for concurrent use.
type Cluster struct {
	opts    options
	routing *coordinator.RoutingTable
	indices map[string]IndexConfig
	nodes   []*node
	owners  map[index.ShardID]*node
	pool    *coordinator.WorkerPool
	coord   *coordinator.Coordinator

	mu     sync.RWMutex
	closed bool
}

// NewCluster creates a cluster with empty shards as described by cfg.
// Shards are assigned to nodes round robin, in index order.
func NewCluster(cfg Config, optFns ...Option) (*Cluster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(optFns)

	nodeIDs := cfg.Nodes
	if len(nodeIDs) == 0 {
		nodeIDs = []string{"node-0"}
	}

	c := &Cluster{
		opts:    o,
		indices: make(map[string]IndexConfig, len(cfg.Indices)),
		owners:  make(map[index.ShardID]*node),
	}
	for i, id := range nodeIDs {
		n, err := c.newNode(id, i == 0)
		if err != nil {
			_ = c.closeNodes()
			return nil, err
		}
		c.nodes = append(c.nodes, n)
	}

	metas := make([]coordinator.IndexMetadata, 0, len(cfg.Indices))
	next := 0
	for _, ic := range cfg.Indices {
		if ic.Shards == 0 {
			ic.Shards = 1
		}
		if ic.Mapping == nil {
			ic.Mapping = index.Mapping{}
		}
		c.indices[ic.Name] = ic
		metas = append(metas, coordinator.IndexMetadata{
			Name:        ic.Name,
			Aliases:     ic.Aliases,
			NumShards:   ic.Shards,
			ReadBlocked: ic.ReadBlocked,
		})
		for s := 0; s < ic.Shards; s++ {
			n := c.nodes[next%len(c.nodes)]
			next++
			sh := index.NewShard(index.ShardID{Index: ic.Name, Shard: s}, ic.Mapping)
			n.shards = append(n.shards, sh)
			n.transport.Register(sh)
			c.owners[sh.ID()] = n
		}
	}
	c.routing = coordinator.NewRoutingTable(metas...)

	c.pool = coordinator.NewWorkerPool(o.workers)
	c.coord = coordinator.New(c.pool, &clusterTransport{owners: c.owners}, coordinator.Options{
		Budget:  c.nodes[0].budget,
		Logger:  o.logger.Logger,
		Timeout: o.shardTimeout,
	})

	o.logger.Info("cluster started",
		"nodes", len(c.nodes),
		"indices", len(cfg.Indices),
		"shards", len(c.owners),
	)
	return c, nil
}

func (c *Cluster) newNode(id string, coordinating bool) (*node, error) {
	budget := resource.NewController(resource.Config{
		MemoryLimitBytes:   c.opts.memoryLimit,
		MaxWorkers:         int64(c.opts.workers),
		IOLimitBytesPerSec: c.opts.ioLimit,
	})
	jc, err := cache.New(c.opts.cache)
	if err != nil {
		return nil, fmt.Errorf("%w: node [%s]: %w", ErrConfiguration, id, err)
	}

	exec := &shard.Executor{
		Budget: budget,
		Logger: c.opts.logger.WithNode(id).Logger,
		Done: func(_ index.ShardID, took time.Duration, err error) {
			c.opts.metricsCollector.RecordShard(took, err)
		},
	}
	if c.opts.observer != nil {
		exec.Observer = shard.Observer(c.opts.observer)
	}

	topts := coordinator.LocalTransportOptions{}
	if !coordinating {
		// The coordinating node receives a decoded copy charged to its own
		// budget.
		topts = coordinator.LocalTransportOptions{Serialize: true, Budget: c.coordinatorBudget()}
	}
	return &node{
		id:        id,
		budget:    budget,
		cache:     jc,
		transport: coordinator.NewLocalTransport(exec, topts),
	}, nil
}

func (c *Cluster) coordinatorBudget() *resource.Controller {
	if len(c.nodes) == 0 {
		return nil
	}
	return c.nodes[0].budget
}

// Nodes returns the node ids; the first is the coordinating node.
func (c *Cluster) Nodes() []string {
	ids := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		ids[i] = n.id
	}
	return ids
}

// NodeOf returns the id of the node holding a shard.
func (c *Cluster) NodeOf(indexName string, shardNum int) (string, bool) {
	n, ok := c.owners[index.ShardID{Index: indexName, Shard: shardNum}]
	if !ok {
		return "", false
	}
	return n.id, true
}

// Shard returns a shard of an index.
func (c *Cluster) Shard(indexName string, shardNum int) (*index.Shard, bool) {
	n, ok := c.owners[index.ShardID{Index: indexName, Shard: shardNum}]
	if !ok {
		return nil, false
	}
	return n.transport.Shard(index.ShardID{Index: indexName, Shard: shardNum})
}

// Load reads segment blobs from store into a shard, one segment per blob.
// Reads are rate limited with the owning node's IO limit.
func (c *Cluster) Load(ctx context.Context, store blobstore.Store, indexName string, shardNum int, blobs []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	id := index.ShardID{Index: indexName, Shard: shardNum}
	n, ok := c.owners[id]
	if !ok {
		return fmt.Errorf("%w: no shard %s", ErrConfiguration, id)
	}
	sh, _ := n.transport.Shard(id)
	err := index.Load(ctx, store, sh, blobs, index.LoadOptions{
		DefaultType: c.indices[indexName].DefaultType,
		Controller:  n.budget,
	})
	c.opts.logger.WithNode(n.id).LogLoad(ctx, id.String(), len(blobs), err)
	return err
}

// MemoryUsage returns the term set memory currently reserved across all
// nodes. It is zero whenever no request is running.
func (c *Cluster) MemoryUsage() int64 {
	var total int64
	for _, n := range c.nodes {
		total += n.budget.MemoryUsage()
	}
	return total
}

// NodeResources is the budget state of one node.
type NodeResources struct {
	NodeID      string `json:"node_id" yaml:"node_id"`
	MemoryUsed  int64  `json:"memory_used_bytes" yaml:"memory_used_bytes"`
	MemoryLimit int64  `json:"memory_limit_bytes" yaml:"memory_limit_bytes"`
	Rejections  int64  `json:"rejections" yaml:"rejections"`
	Workers     int    `json:"workers" yaml:"workers"`
}

// Resources reports the budget of every node, in node order.
func (c *Cluster) Resources() []NodeResources {
	out := make([]NodeResources, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = NodeResources{
			NodeID:      n.id,
			MemoryUsed:  n.budget.MemoryUsage(),
			MemoryLimit: n.budget.MemoryLimit(),
			Rejections:  n.budget.Rejections(),
			Workers:     n.budget.MaxWorkers(),
		}
	}
	return out
}

func (c *Cluster) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// cachedResponse is the form a response is memoized in.
type cachedResponse struct {
	Terms       []byte `json:"terms"`
	Size        int64  `json:"size"`
	TotalShards int    `json:"total_shards"`
}

// TermsByQuery collects the distinct values of req.Field over the matching
// documents of every target shard and returns their union. Invalid requests
// fail with ErrConfiguration before any shard runs. Failing shards are
// listed in the response; the request itself fails only when ctx is done or
// the merge fails.
func (c *Cluster) TermsByQuery(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrConfiguration)
	}
	start := c.opts.now()
	reqID := uuid.NewString()
	logger := c.opts.logger.WithRequestID(reqID)

	resp, err := c.termsByQuery(ctx, req, start, reqID, logger)
	took := c.opts.now().Sub(start)

	var shards, failed int
	var terms int64
	if resp != nil {
		shards, failed, terms = resp.TotalShards, resp.FailedShards, resp.Size
	}
	c.opts.metricsCollector.RecordTermsByQuery(shards, failed, terms, took, err)
	logger.LogTermsByQuery(ctx, req, resp, took, err)
	return resp, err
}

func (c *Cluster) termsByQuery(ctx context.Context, req *Request, start time.Time, reqID string, logger *Logger) (*Response, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	indices, err := c.routing.Resolve(req.Indices)
	if err != nil {
		return nil, translateError(err)
	}
	if blocked := c.routing.Blocked(indices); len(blocked) > 0 {
		return nil, fmt.Errorf("%w: blocked by: [FORBIDDEN/read] on %v", ErrConfiguration, blocked)
	}
	targets, err := c.routing.Shards(indices, req.Routing, req.Preference)
	if err != nil {
		return nil, translateError(err)
	}

	sreq := &shard.Request{
		Types:         req.Types,
		Field:         req.Field,
		Source:        req.Query,
		Encoding:      req.encoding(),
		ExpectedTerms: req.ExpectedTerms,
		MaxTerms:      req.MaxTermsPerShard,
		Ranked:        req.Ordering == OrderingDocScore,
		NowMillis:     start.UnixMilli(),
	}

	jc := c.nodes[0].cache
	cacheable := req.Cache && !c.opts.cacheDisabled && !timeRelative(req.Query)
	var key uint64
	if cacheable {
		key = fingerprint(req, sreq, targets)
		if raw, ok := jc.Get(key); ok {
			var cr cachedResponse
			if err := codec.Default.Unmarshal(raw, &cr); err == nil {
				c.opts.metricsCollector.RecordCacheHit()
				return &Response{
					Terms:            bytes.Clone(cr.Terms),
					Encoding:         sreq.Encoding,
					Size:             cr.Size,
					TookMillis:       c.opts.now().Sub(start).Milliseconds(),
					TotalShards:      cr.TotalShards,
					SuccessfulShards: cr.TotalShards,
					Cached:           true,
					RequestID:        reqID,
				}, nil
			}
		}
	}

	res, err := c.coord.Execute(ctx, targets, sreq)
	if err != nil {
		err = translateError(err)
		if errors.Is(err, ErrResourceExhausted) {
			c.opts.metricsCollector.RecordMemoryRejected()
		}
		return nil, err
	}

	resp := &Response{
		Terms:            res.Encoded,
		Encoding:         res.Encoding,
		Size:             res.Size,
		TookMillis:       c.opts.now().Sub(start).Milliseconds(),
		TotalShards:      res.Total,
		SuccessfulShards: res.Successful,
		FailedShards:     res.Failed,
		RequestID:        reqID,
	}
	for _, f := range res.Failures {
		err := translateError(f.Err)
		if errors.Is(err, ErrResourceExhausted) {
			c.opts.metricsCollector.RecordMemoryRejected()
		}
		sf := ShardFailure{ShardID: f.Target, Reason: err.Error(), Err: err}
		resp.ShardFailures = append(resp.ShardFailures, sf)
		logger.LogShardFailure(ctx, sf)
	}

	if cacheable && resp.SuccessfulShards == resp.TotalShards {
		raw, err := codec.Default.Marshal(cachedResponse{Terms: resp.Terms, Size: resp.Size, TotalShards: resp.TotalShards})
		if err == nil {
			jc.Put(key, raw)
		}
	}
	return resp, nil
}

// timeRelative reports whether a query source may depend on the current
// time. Such responses are not cached.
func timeRelative(src []byte) bool {
	return bytes.Contains(src, []byte("now"))
}

func fingerprint(req *Request, sreq *shard.Request, targets []index.ShardID) uint64 {
	shards := make([]string, len(targets))
	for i, t := range targets {
		shards[i] = t.String()
	}
	types := slices.Clone(req.Types)
	slices.Sort(types)
	return cache.Fingerprint(
		[]byte(strings.Join(shards, ",")),
		[]byte(strings.Join(types, ",")),
		[]byte(req.Field),
		req.Query,
		[]byte{byte(sreq.Encoding), byte(req.Ordering)},
		strconv.AppendInt(nil, req.ExpectedTerms, 10),
		strconv.AppendInt(nil, req.MaxTermsPerShard, 10),
	)
}

// NodeCacheClear reports the clearing of one node's filter join cache.
type NodeCacheClear struct {
	NodeID    string    `json:"node_id" yaml:"node_id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// NodeCacheStats is the filter join cache activity of one node.
type NodeCacheStats struct {
	NodeID    string      `json:"node_id" yaml:"node_id"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Stats     cache.Stats `json:"stats" yaml:"stats"`
}

// ClearCache clears the filter join cache of every node. Results are in
// node order.
func (c *Cluster) ClearCache(ctx context.Context) ([]NodeCacheClear, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]NodeCacheClear, len(c.nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range c.nodes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := n.cache.Clear()
			c.opts.logger.LogCacheClear(gctx, n.id, err)
			if err != nil {
				return fmt.Errorf("node [%s]: %w", n.id, err)
			}
			out[i] = NodeCacheClear{NodeID: n.id, Timestamp: c.opts.now()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CacheStats returns the filter join cache statistics of every node, in
// node order.
func (c *Cluster) CacheStats(ctx context.Context) ([]NodeCacheStats, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]NodeCacheStats, len(c.nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range c.nodes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := n.cache.Stats()
			if err != nil {
				return fmt.Errorf("node [%s]: %w", n.id, err)
			}
			out[i] = NodeCacheStats{NodeID: n.id, Timestamp: c.opts.now(), Stats: st}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the workers and closes every shard and cache. Extra calls
// are no-ops.
func (c *Cluster) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.pool.Close()
	return c.closeNodes()
}

func (c *Cluster) closeNodes() error {
	var errs []error
	for _, n := range c.nodes {
		for _, sh := range n.shards {
			if err := sh.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.cache.Close()
	}
	return errors.Join(errs...)
}
