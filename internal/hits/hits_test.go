package hits

import (
	"errors"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/query"
)

// fakeSource scores doc d of segment s with scores[s][d]; negative scores do not match.
type fakeSource struct {
	scores  [][]float64
	failAt  int
	matched []int
}

func (f *fakeSource) NumSegments() int { return len(f.scores) }

func (f *fakeSource) Match(seg int) (*bitset.BitSet, func(uint32) float64, error) {
	f.matched = append(f.matched, seg)
	if seg == f.failAt {
		return nil, nil, errors.New("boom")
	}
	bs := bitset.New(uint(len(f.scores[seg])))
	for d, s := range f.scores[seg] {
		if s >= 0 {
			bs.Set(uint(d))
		}
	}
	return bs, func(d uint32) float64 { return f.scores[seg][d] }, nil
}

func collect(t *testing.T, s *Stream) []Hit {
	t.Helper()
	var out []Hit
	for s.Next() {
		out = append(out, s.Hit())
	}
	require.NoError(t, s.Err())
	return out
}

func TestUnordered(t *testing.T) {
	src := &fakeSource{failAt: -1, scores: [][]float64{{1, -1, 3}, {}, {-1, 2}}}
	s, err := New(Unordered, src, 1)
	require.NoError(t, err)
	assert.Equal(t, Unordered, s.Strategy())

	assert.Equal(t, []Hit{{0, 0, 0}, {0, 2, 0}, {2, 1, 0}}, collect(t, s))
	assert.False(t, s.Next())
}

func TestUnordered_Lazy(t *testing.T) {
	src := &fakeSource{failAt: -1, scores: [][]float64{{1}, {1}, {1}}}
	s, err := New(Unordered, src, 0)
	require.NoError(t, err)
	require.True(t, s.Next())
	assert.Equal(t, []int{0}, src.matched, "segments are matched on demand")
}

func TestRanked(t *testing.T) {
	src := &fakeSource{failAt: -1, scores: [][]float64{{1, 5, 3}, {5, -1, 4}}}
	s, err := New(Ranked, src, 3)
	require.NoError(t, err)

	assert.Equal(t, []Hit{{0, 1, 5}, {1, 0, 5}, {1, 2, 4}}, collect(t, s))
}

func TestRanked_FewerMatchesThanCap(t *testing.T) {
	src := &fakeSource{failAt: -1, scores: [][]float64{{2, 1}}}
	s, err := New(Ranked, src, 10)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{0, 0, 2}, {0, 1, 1}}, collect(t, s))
}

func TestRanked_RequiresCap(t *testing.T) {
	for _, limit := range []int64{0, -1} {
		_, err := New(Ranked, &fakeSource{}, limit)
		assert.ErrorIs(t, err, ErrMissingCap)
	}
}

func TestMatchError(t *testing.T) {
	for _, strategy := range []Strategy{Unordered, Ranked} {
		src := &fakeSource{failAt: 1, scores: [][]float64{{1}, {1}}}
		s, err := New(strategy, src, 5)
		require.NoError(t, err)
		for s.Next() {
		}
		assert.EqualError(t, s.Err(), "boom", strategy.String())
		assert.False(t, s.Next())
	}
}

func TestFromQuery(t *testing.T) {
	mapping := index.Mapping{"doc": {"tag": index.FieldKeyword}}
	shard := index.NewShard(index.ShardID{Index: "i"}, mapping)
	for _, tags := range [][]string{{"a", "b", "a"}, {"b", "a"}} {
		w := index.NewWriter(mapping)
		for _, tag := range tags {
			_, err := w.Add("doc", map[string][]index.Value{"tag": {index.String(tag)}})
			require.NoError(t, err)
		}
		shard.AddSegment(w.Flush())
	}
	searcher, err := shard.Acquire()
	require.NoError(t, err)
	defer searcher.Close()

	qc := query.NewContext(searcher, nil, 0)
	s, err := New(Unordered, FromQuery(qc, &query.Term{Field: "tag", Value: index.String("a")}), 0)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{0, 0, 0}, {0, 2, 0}, {1, 1, 0}}, collect(t, s))
}
