package sirenjoin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/termset"
)

func TestLogger_TermsByQuery(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).WithRequestID("r-1")
	req := &Request{Field: "user"}

	l.LogTermsByQuery(context.Background(), req, &Response{Encoding: termset.Long, TotalShards: 2, SuccessfulShards: 2, Size: 7}, time.Millisecond, nil)
	assert.Contains(t, buf.String(), `"msg":"terms by query completed"`)
	assert.Contains(t, buf.String(), `"request_id":"r-1"`)
	assert.Contains(t, buf.String(), `"terms":7`)

	buf.Reset()
	l.LogTermsByQuery(context.Background(), req, &Response{TotalShards: 2, FailedShards: 1}, time.Millisecond, nil)
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	l.LogTermsByQuery(context.Background(), req, nil, 0, errors.New("boom"))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	l.LogShardFailure(context.Background(), ShardFailure{ShardID: index.ShardID{Index: "tweets", Shard: 1}, Reason: "closed"})
	assert.Contains(t, buf.String(), `"shard":"[tweets][1]"`)
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.LogCacheClear(context.Background(), "n0", nil)
}

func TestBasicMetricsCollector(t *testing.T) {
	m := &BasicMetricsCollector{}
	m.RecordTermsByQuery(3, 1, 10, 2*time.Millisecond, nil)
	m.RecordTermsByQuery(0, 0, 0, 4*time.Millisecond, errors.New("x"))
	m.RecordShard(time.Millisecond, nil)
	m.RecordShard(3*time.Millisecond, errors.New("x"))
	m.RecordCacheHit()
	m.RecordMemoryRejected()

	s := m.GetStats()
	assert.Equal(t, int64(2), s.RequestCount)
	assert.Equal(t, int64(1), s.RequestErrors)
	assert.Equal(t, (3 * time.Millisecond).Nanoseconds(), s.RequestAvgNanos)
	assert.Equal(t, int64(3), s.ShardsTargeted)
	assert.Equal(t, int64(1), s.ShardsFailed)
	assert.Equal(t, int64(10), s.TermsReturned)
	assert.Equal(t, int64(2), s.ShardCount)
	assert.Equal(t, int64(1), s.ShardErrors)
	assert.Equal(t, (2 * time.Millisecond).Nanoseconds(), s.ShardAvgNanos)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.MemoryRejected)

	var _ MetricsCollector = NoopMetricsCollector{}
}
