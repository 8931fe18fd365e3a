package sirenjoin

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTermsByQuery is called after each request. shards is the number
	// of target shards, failed the number that failed, terms the merged size.
	// err is nil if the request produced a response.
	RecordTermsByQuery(shards, failed int, terms int64, duration time.Duration, err error)

	// RecordShard is called after each shard operation.
	RecordShard(duration time.Duration, err error)

	// RecordCacheHit is called when a response is served from the cache.
	RecordCacheHit()

	// RecordMemoryRejected is called for each shard or merge that failed on
	// the memory budget.
	RecordMemoryRejected()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTermsByQuery(int, int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordShard(time.Duration, error)                         {}
func (NoopMetricsCollector) RecordCacheHit()                                          {}
func (NoopMetricsCollector) RecordMemoryRejected()                                    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RequestCount      atomic.Int64
	RequestErrors     atomic.Int64
	RequestTotalNanos atomic.Int64
	ShardsTargeted    atomic.Int64
	ShardsFailed      atomic.Int64
	TermsReturned     atomic.Int64
	ShardCount        atomic.Int64
	ShardErrors       atomic.Int64
	ShardTotalNanos   atomic.Int64
	CacheHits         atomic.Int64
	MemoryRejected    atomic.Int64
}

// RecordTermsByQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTermsByQuery(shards, failed int, terms int64, duration time.Duration, err error) {
	b.RequestCount.Add(1)
	b.RequestTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RequestErrors.Add(1)
		return
	}
	b.ShardsTargeted.Add(int64(shards))
	b.ShardsFailed.Add(int64(failed))
	b.TermsReturned.Add(terms)
}

// RecordShard implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShard(duration time.Duration, err error) {
	b.ShardCount.Add(1)
	b.ShardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ShardErrors.Add(1)
	}
}

// RecordCacheHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheHit() {
	b.CacheHits.Add(1)
}

// RecordMemoryRejected implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMemoryRejected() {
	b.MemoryRejected.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RequestCount:    b.RequestCount.Load(),
		RequestErrors:   b.RequestErrors.Load(),
		RequestAvgNanos: avg(b.RequestTotalNanos.Load(), b.RequestCount.Load()),
		ShardsTargeted:  b.ShardsTargeted.Load(),
		ShardsFailed:    b.ShardsFailed.Load(),
		TermsReturned:   b.TermsReturned.Load(),
		ShardCount:      b.ShardCount.Load(),
		ShardErrors:     b.ShardErrors.Load(),
		ShardAvgNanos:   avg(b.ShardTotalNanos.Load(), b.ShardCount.Load()),
		CacheHits:       b.CacheHits.Load(),
		MemoryRejected:  b.MemoryRejected.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RequestCount    int64
	RequestErrors   int64
	RequestAvgNanos int64
	ShardsTargeted  int64
	ShardsFailed    int64
	TermsReturned   int64
	ShardCount      int64
	ShardErrors     int64
	ShardAvgNanos   int64
	CacheHits       int64
	MemoryRejected  int64
}
