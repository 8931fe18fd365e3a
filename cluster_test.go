package sirenjoin

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/blobstore"
	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/hash"
	"github.com/SentiOne/siren-join/termset"
	"github.com/SentiOne/siren-join/testutil"
)

var tweetMapping = index.Mapping{
	"tweet": {"user": index.FieldKeyword, "likes": index.FieldLong, "rating": index.FieldDouble},
}

// newCluster returns a three node cluster with one three-shard index,
// "tweets" (alias "social"), and the documents loaded into it, split over
// the shards in order.
func newCluster(t *testing.T, opts ...Option) (*Cluster, [][]testutil.Doc) {
	t.Helper()
	c, err := NewCluster(Config{
		Nodes: []string{"n0", "n1", "n2"},
		Indices: []IndexConfig{{
			Name:    "tweets",
			Aliases: []string{"social"},
			Shards:  3,
			Mapping: tweetMapping,
		}},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	docs := testutil.NewRNG(42).Docs(600, "tweet",
		testutil.KeywordField("user", 150),
		testutil.LongField("likes", 400),
	)
	parts := testutil.Split(docs, 3)
	for i, part := range parts {
		seg, err := testutil.Segment(tweetMapping, part)
		require.NoError(t, err)
		sh, ok := c.Shard("tweets", i)
		require.True(t, ok)
		sh.AddSegment(seg)
	}
	return c, parts
}

func flatten(parts ...[]testutil.Doc) []testutil.Doc {
	var out []testutil.Doc
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func hashed(keywords []string) []int64 {
	out := make([]int64, len(keywords))
	for i, k := range keywords {
		out[i] = hash.Murmur64([]byte(k))
	}
	slices.Sort(out)
	return out
}

func terms(t *testing.T, resp *Response) *termset.TermSet {
	t.Helper()
	set, err := resp.TermSet(nil)
	require.NoError(t, err)
	t.Cleanup(set.Release)
	return set
}

func termStrings(set *termset.TermSet) []string {
	var out []string
	for _, b := range set.Terms() {
		out = append(out, string(b))
	}
	return out
}

func assertClean(t *testing.T, c *Cluster) {
	t.Helper()
	assert.Zero(t, c.MemoryUsage())
	for i := 0; i < 3; i++ {
		sh, ok := c.Shard("tweets", i)
		require.True(t, ok)
		assert.Zero(t, sh.OpenSearchers(), "shard %d", i)
	}
}

func TestTermsByQuery_Union(t *testing.T) {
	c, parts := newCluster(t)
	all := flatten(parts...)
	ctx := context.Background()

	t.Run("long keyword", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Indices: []string{"tweets"}, Field: "user"})
		require.NoError(t, err)
		assert.Equal(t, termset.Long, resp.Encoding)
		assert.Equal(t, 3, resp.TotalShards)
		assert.Equal(t, 3, resp.SuccessfulShards)
		assert.Zero(t, resp.FailedShards)
		assert.NotEmpty(t, resp.RequestID)
		assert.Equal(t, hashed(testutil.DistinctKeywords(all, "user")), terms(t, resp).Values())
	})

	t.Run("long numeric", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Field: "likes", Encoding: termset.Long})
		require.NoError(t, err)
		want := testutil.DistinctLongs(all, "likes")
		assert.Equal(t, int64(len(want)), resp.Size)
		assert.Equal(t, want, terms(t, resp).Values())
	})

	t.Run("integer keyword", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Indices: []string{"social"}, Field: "user", Encoding: termset.Integer})
		require.NoError(t, err)
		var want []int64
		for _, h := range hashed(testutil.DistinctKeywords(all, "user")) {
			want = append(want, int64(int32(h)))
		}
		slices.Sort(want)
		want = slices.Compact(want)
		assert.Equal(t, want, terms(t, resp).Values())
	})

	t.Run("bytes", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Indices: []string{"tw*"}, Field: "user", Encoding: termset.Bytes})
		require.NoError(t, err)
		assert.Equal(t, testutil.DistinctKeywords(all, "user"), termStrings(terms(t, resp)))
	})

	t.Run("bloom", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Field: "user", Encoding: termset.Bloom, ExpectedTerms: 1000})
		require.NoError(t, err)
		set := terms(t, resp)
		for _, h := range hashed(testutil.DistinctKeywords(all, "user")) {
			assert.True(t, set.Contains(h))
		}
	})

	t.Run("query", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{
			Field:    "likes",
			Query:    []byte(`{"query": {"range": {"likes": {"lt": 100}}}}`),
			Encoding: termset.Long,
		})
		require.NoError(t, err)
		var want []int64
		for _, v := range testutil.DistinctLongs(all, "likes") {
			if v < 100 {
				want = append(want, v)
			}
		}
		assert.Equal(t, want, terms(t, resp).Values())
	})

	assertClean(t, c)
}

func firstDistinct(docs []testutil.Doc, field string, n int) []string {
	var out []string
	for _, d := range docs {
		for _, v := range d.Fields[field] {
			if len(out) < n && !slices.Contains(out, v.S) {
				out = append(out, v.S)
			}
		}
	}
	return out
}

func TestTermsByQuery_Cap(t *testing.T) {
	c, parts := newCluster(t)
	ctx := context.Background()

	t.Run("default ordering", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{Field: "user", Encoding: termset.Bytes, MaxTermsPerShard: 5})
		require.NoError(t, err)
		var want []string
		for _, p := range parts {
			want = append(want, firstDistinct(p, "user", 5)...)
		}
		slices.Sort(want)
		want = slices.Compact(want)
		assert.Equal(t, want, termStrings(terms(t, resp)))
	})

	t.Run("doc score", func(t *testing.T) {
		resp, err := c.TermsByQuery(ctx, &Request{
			Field:            "user",
			Query:            []byte(`{"match_all": {}}`),
			Encoding:         termset.Bytes,
			MaxTermsPerShard: 5,
			Ordering:         OrderingDocScore,
		})
		require.NoError(t, err)
		// Equal scores rank in document order, so each shard keeps the
		// terms of its first five documents.
		var want []string
		for _, p := range parts {
			want = append(want, testutil.DistinctKeywords(p[:5], "user")...)
		}
		slices.Sort(want)
		want = slices.Compact(want)
		assert.Equal(t, want, termStrings(terms(t, resp)))
	})

	assertClean(t, c)
}

func TestTermsByQuery_DocScoreRequiresCap(t *testing.T) {
	var ran atomic.Int64
	c, _ := newCluster(t, WithShardObserver(func(index.ShardID, ShardState) { ran.Add(1) }))

	_, err := c.TermsByQuery(context.Background(), &Request{Field: "user", Ordering: OrderingDocScore})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, ran.Load())
}

func TestTermsByQuery_Validation(t *testing.T) {
	c, _ := newCluster(t)
	tests := []struct {
		name string
		req  *Request
	}{
		{"nil", nil},
		{"no field", &Request{}},
		{"unknown encoding", &Request{Field: "user", Encoding: termset.Encoding(9)}},
		{"negative cap", &Request{Field: "user", MaxTermsPerShard: -1}},
		{"negative expected", &Request{Field: "user", ExpectedTerms: -1}},
		{"unknown ordering", &Request{Field: "user", Ordering: Ordering(7)}},
		{"unknown index", &Request{Indices: []string{"nope"}, Field: "user"}},
		{"bad preference", &Request{Field: "user", Preference: "_shards:x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.TermsByQuery(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestTermsByQuery_ShardFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("isolated", func(t *testing.T) {
		c, parts := newCluster(t)
		sh, _ := c.Shard("tweets", 2)
		require.NoError(t, sh.Close())

		resp, err := c.TermsByQuery(ctx, &Request{Field: "user", Encoding: termset.Bytes})
		require.NoError(t, err)
		assert.Equal(t, 3, resp.TotalShards)
		assert.Equal(t, 2, resp.SuccessfulShards)
		assert.Equal(t, 1, resp.FailedShards)
		require.Len(t, resp.ShardFailures, 1)

		f := resp.ShardFailures[0]
		assert.Equal(t, index.ShardID{Index: "tweets", Shard: 2}, f.ShardID)
		assert.Contains(t, f.Reason, "[tweets][2]")
		var se *ShardExecutionError
		require.ErrorAs(t, f.Err, &se)
		assert.Equal(t, f.ShardID, se.Target)
		assert.ErrorIs(t, f.Err, index.ErrShardClosed)

		assert.Equal(t, testutil.DistinctKeywords(flatten(parts[0], parts[1]), "user"), termStrings(terms(t, resp)))
		assert.Zero(t, c.MemoryUsage())
	})

	t.Run("inactive shard is absent", func(t *testing.T) {
		c, parts := newCluster(t)
		sh, _ := c.Shard("tweets", 1)
		sh.SetActive(false)

		resp, err := c.TermsByQuery(ctx, &Request{Field: "user", Encoding: termset.Bytes})
		require.NoError(t, err)
		assert.Equal(t, 3, resp.TotalShards)
		assert.Equal(t, 2, resp.SuccessfulShards)
		assert.Zero(t, resp.FailedShards)
		assert.Equal(t, testutil.DistinctKeywords(flatten(parts[0], parts[2]), "user"), termStrings(terms(t, resp)))
	})

	kinds := []struct {
		name string
		req  *Request
		want error
	}{
		{"field", &Request{Field: "missing"}, ErrFieldResolution},
		{"query", &Request{Field: "user", Query: []byte(`{"bogus": {}}`)}, ErrQueryParse},
		{"value type", &Request{Field: "rating"}, ErrUnsupportedValueType},
	}
	for _, tt := range kinds {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newCluster(t)
			resp, err := c.TermsByQuery(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, 3, resp.FailedShards)
			assert.Zero(t, resp.Size)
			for _, f := range resp.ShardFailures {
				assert.ErrorIs(t, f.Err, tt.want)
			}
			assertClean(t, c)
		})
	}
}

func TestTermsByQuery_MemoryLimit(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	c, _ := newCluster(t, WithMemoryLimit(1024), WithMetricsCollector(metrics))

	resp, err := c.TermsByQuery(context.Background(), &Request{Field: "user"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.FailedShards)
	for _, f := range resp.ShardFailures {
		assert.ErrorIs(t, f.Err, ErrResourceExhausted)
	}
	assert.Equal(t, int64(3), metrics.GetStats().MemoryRejected)
	assertClean(t, c)

	var rejected int64
	for _, r := range c.Resources() {
		assert.Equal(t, int64(1024), r.MemoryLimit)
		assert.Zero(t, r.MemoryUsed)
		assert.Equal(t, 4, r.Workers)
		rejected += r.Rejections
	}
	assert.Equal(t, int64(3), rejected)
}

func TestTermsByQuery_BloomHintOverBudget(t *testing.T) {
	c, _ := newCluster(t, WithMemoryLimit(1<<20))

	_, err := c.TermsByQuery(context.Background(), &Request{
		Field: "user", Encoding: termset.Bloom, ExpectedTerms: 1 << 33,
	})
	require.ErrorIs(t, err, ErrResourceExhausted)
	assertClean(t, c)
}

func TestTermsByQuery_Blocked(t *testing.T) {
	c, err := NewCluster(Config{Indices: []IndexConfig{
		{Name: "open", Mapping: tweetMapping},
		{Name: "closed", Mapping: tweetMapping, ReadBlocked: true},
	}})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.TermsByQuery(context.Background(), &Request{Indices: []string{"closed"}, Field: "user"})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = c.TermsByQuery(context.Background(), &Request{Indices: []string{"open"}, Field: "user"})
	assert.NoError(t, err)
}

func TestTermsByQuery_Routing(t *testing.T) {
	c, _ := newCluster(t)
	ctx := context.Background()

	resp, err := c.TermsByQuery(ctx, &Request{Field: "user", Routing: []string{"u1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.TotalShards)

	resp, err = c.TermsByQuery(ctx, &Request{Field: "user", Preference: "_shards:0,2"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalShards)
}

func TestTermsByQuery_Cache(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	c, _ := newCluster(t, WithMetricsCollector(metrics))
	ctx := context.Background()
	req := &Request{Field: "user", Encoding: termset.Bytes, Cache: true}

	first, err := c.TermsByQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	c.nodes[0].cache.Wait()

	second, err := c.TermsByQuery(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Terms, second.Terms)
	assert.Equal(t, first.Size, second.Size)
	assert.Equal(t, int64(1), metrics.GetStats().CacheHits)

	stats, err := c.CacheStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, "n0", stats[0].NodeID)
	assert.Equal(t, uint64(1), stats[0].Stats.Hits)
	assert.Zero(t, stats[1].Stats.Hits)

	cleared, err := c.ClearCache(ctx)
	require.NoError(t, err)
	require.Len(t, cleared, 3)
	for i, id := range c.Nodes() {
		assert.Equal(t, id, cleared[i].NodeID)
		assert.False(t, cleared[i].Timestamp.IsZero())
	}

	third, err := c.TermsByQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Cached)

	stats, err = c.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats[0].Stats.Clears)
}

func TestTermsByQuery_CacheSkipsTimeRelative(t *testing.T) {
	c, _ := newCluster(t)
	ctx := context.Background()
	req := &Request{Field: "likes", Query: []byte(`{"range": {"likes": {"lte": "now"}}}`), Cache: true}

	_, err := c.TermsByQuery(ctx, req)
	require.NoError(t, err)
	c.nodes[0].cache.Wait()

	resp, err := c.TermsByQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
}

func TestTermsByQuery_Metrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	c, _ := newCluster(t, WithMetricsCollector(metrics))

	_, err := c.TermsByQuery(context.Background(), &Request{Field: "user"})
	require.NoError(t, err)
	_, err = c.TermsByQuery(context.Background(), &Request{})
	require.Error(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.RequestCount)
	assert.Equal(t, int64(1), stats.RequestErrors)
	assert.Equal(t, int64(3), stats.ShardCount)
	assert.Equal(t, int64(3), stats.ShardsTargeted)
	assert.Zero(t, stats.ShardsFailed)
}

func TestTermsByQuery_Canceled(t *testing.T) {
	c, _ := newCluster(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.TermsByQuery(ctx, &Request{Field: "user"})
	assert.ErrorIs(t, err, context.Canceled)
	assertClean(t, c)
}

func TestCluster_Load(t *testing.T) {
	ctx := context.Background()
	mapping := index.Mapping{"user": {"id": index.FieldKeyword}}
	c, err := NewCluster(Config{Indices: []IndexConfig{{Name: "users", Mapping: mapping, DefaultType: "user"}}})
	require.NoError(t, err)
	defer c.Close()

	docs := testutil.NewRNG(3).Docs(40, "user", testutil.KeywordField("id", 25))
	store := blobstore.NewMemoryStore()
	for i, part := range testutil.Split(docs, 2) {
		raw, err := testutil.NDJSON(part)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, []string{"a.ndjson", "b.ndjson"}[i], raw))
	}
	require.NoError(t, c.Load(ctx, store, "users", 0, []string{"a.ndjson", "b.ndjson"}))

	sh, _ := c.Shard("users", 0)
	assert.Equal(t, 2, sh.NumSegments())

	resp, err := c.TermsByQuery(ctx, &Request{Indices: []string{"users"}, Field: "id", Encoding: termset.Bytes})
	require.NoError(t, err)
	assert.Equal(t, testutil.DistinctKeywords(docs, "id"), termStrings(terms(t, resp)))

	err = c.Load(ctx, store, "users", 3, []string{"a.ndjson"})
	assert.ErrorIs(t, err, ErrConfiguration)
	err = c.Load(ctx, store, "users", 0, []string{"missing.ndjson"})
	assert.Error(t, err)
}

func TestCluster_Assignment(t *testing.T) {
	c, err := NewCluster(Config{
		Nodes: []string{"a", "b"},
		Indices: []IndexConfig{
			{Name: "x", Shards: 2, Mapping: tweetMapping},
			{Name: "y", Shards: 1, Mapping: tweetMapping},
		},
	})
	require.NoError(t, err)
	defer c.Close()

	for _, tt := range []struct {
		index string
		shard int
		node  string
	}{
		{"x", 0, "a"},
		{"x", 1, "b"},
		{"y", 0, "a"},
	} {
		got, ok := c.NodeOf(tt.index, tt.shard)
		require.True(t, ok)
		assert.Equal(t, tt.node, got)
	}
	_, ok := c.NodeOf("y", 1)
	assert.False(t, ok)
}

func TestNewCluster_InvalidConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"duplicate index": {Indices: []IndexConfig{{Name: "a"}, {Name: "a"}}},
		"empty name":      {Indices: []IndexConfig{{}}},
		"wildcard name":   {Indices: []IndexConfig{{Name: "a*"}}},
		"negative shards": {Indices: []IndexConfig{{Name: "a", Shards: -1}}},
		"duplicate node":  {Nodes: []string{"n", "n"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewCluster(cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestCluster_Closed(t *testing.T) {
	c, _ := newCluster(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.TermsByQuery(context.Background(), &Request{Field: "user"})
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = c.ClearCache(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.CacheStats(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
