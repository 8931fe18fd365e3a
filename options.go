package sirenjoin

import (
	"log/slog"
	"time"

	"github.com/SentiOne/siren-join/cache"
	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/shard"
)

// ShardState is the lifecycle state of one shard operation, reported to
// observers installed with WithShardObserver.
type ShardState = shard.State

// Shard operation states.
const (
	ShardInit          = shard.Init
	ShardFieldResolved = shard.FieldResolved
	ShardContextBuilt  = shard.ContextBuilt
	ShardQueryApplied  = shard.QueryApplied
	ShardCollecting    = shard.Collecting
	ShardCompleted     = shard.Completed
	ShardFailed        = shard.Failed
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	memoryLimit      int64
	workers          int
	shardTimeout     time.Duration
	ioLimit          int64
	cache            cache.Config
	cacheDisabled    bool
	observer         func(index.ShardID, ShardState)
	now              func() time.Time
}

// Option configures a Cluster.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring requests.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &sirenjoin.BasicMetricsCollector{}
//	c, _ := sirenjoin.NewCluster(cfg, sirenjoin.WithMetricsCollector(metrics))
//	// ... run requests ...
//	stats := metrics.GetStats()
//	fmt.Printf("Requests: %d, Avg latency: %dns\n", stats.RequestCount, stats.RequestAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := sirenjoin.NewJSONLogger(slog.LevelInfo)
//	c, _ := sirenjoin.NewCluster(cfg, sirenjoin.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryLimit bounds the term set memory of each node in bytes.
// 0 tracks usage without a limit.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithWorkers sets the number of shard operations a coordinating node runs
// concurrently. Defaults to 4.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithShardTimeout bounds how long a request waits for shards. Shards that
// have not answered in time are left out of the response without counting
// as failures. 0 waits for every shard.
func WithShardTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shardTimeout = d
	}
}

// WithIOLimit caps the read throughput of segment loading per node.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithCache configures the filter join cache of each node.
func WithCache(cfg cache.Config) Option {
	return func(o *options) {
		o.cache = cfg
		o.cacheDisabled = false
	}
}

// WithoutCache disables response caching. ClearCache and CacheStats still
// report every node.
func WithoutCache() Option {
	return func(o *options) {
		o.cacheDisabled = true
	}
}

// WithShardObserver installs a callback notified of every shard operation
// state transition. It is called from worker goroutines.
func WithShardObserver(fn func(target index.ShardID, s ShardState)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithClock overrides the clock that "now" in queries and took times are
// measured with.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		workers:          4,
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	return o
}
