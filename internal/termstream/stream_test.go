package termstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/hash"
)

var mapping = index.Mapping{
	"doc": {"tag": index.FieldKeyword, "n": index.FieldLong, "f": index.FieldDouble},
}

func newSearcher(t *testing.T, segments ...[]map[string][]index.Value) *index.Searcher {
	t.Helper()
	shard := index.NewShard(index.ShardID{Index: "i", Shard: 0}, mapping)
	for _, docs := range segments {
		w := index.NewWriter(mapping)
		for _, fields := range docs {
			_, err := w.Add("doc", fields)
			require.NoError(t, err)
		}
		shard.AddSegment(w.Flush())
	}
	s, err := shard.Acquire()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drain(s *Stream) []int64 {
	var out []int64
	for s.HasNext() {
		out = append(out, s.Next())
	}
	return out
}

func TestForField_Double(t *testing.T) {
	_, err := ForField("f", index.FieldDouble, nil)
	assert.ErrorIs(t, err, ErrUnsupportedValueType)
}

func TestStream_Longs(t *testing.T) {
	s := newSearcher(t,
		[]map[string][]index.Value{{"n": {index.Int(1), index.Int(2)}}, {}, {"n": {index.Int(-3)}}},
		[]map[string][]index.Value{{"n": {index.Int(9)}}},
	)
	st, err := ForField("n", index.FieldLong, s)
	require.NoError(t, err)
	assert.False(t, st.Hashed())

	require.NoError(t, st.PositionAt(0, 0))
	assert.Equal(t, []int64{1, 2}, drain(st))
	require.NoError(t, st.PositionAt(0, 1))
	assert.Empty(t, drain(st))
	require.NoError(t, st.PositionAt(0, 2))
	assert.Equal(t, []int64{-3}, drain(st))
	require.NoError(t, st.PositionAt(1, 0))
	assert.Equal(t, []int64{9}, drain(st))

	require.NoError(t, st.PositionAt(0, 2))
	assert.True(t, st.HasNext())
	assert.Equal(t, "-3", string(st.NextBytes()))
}

func TestStream_OneLoadPerSegment(t *testing.T) {
	var docs []map[string][]index.Value
	for i := 0; i < 100; i++ {
		docs = append(docs, map[string][]index.Value{"n": {index.Int(int64(i))}})
	}
	s := newSearcher(t, docs, docs, docs)
	st, err := ForField("n", index.FieldLong, s)
	require.NoError(t, err)

	for seg := 0; seg < 3; seg++ {
		for doc := uint32(0); doc < 100; doc++ {
			require.NoError(t, st.PositionAt(seg, doc))
			assert.Equal(t, []int64{int64(doc)}, drain(st))
		}
	}
	assert.Equal(t, 3, st.Loads())
	assert.Equal(t, int64(3), s.Shard().FieldData().Loads())
}

func TestStream_InterleavedSegments(t *testing.T) {
	seg := func(base int64) []map[string][]index.Value {
		var docs []map[string][]index.Value
		for i := int64(0); i < 4; i++ {
			docs = append(docs, map[string][]index.Value{"n": {index.Int(base + i)}})
		}
		return docs
	}
	s := newSearcher(t, seg(0), seg(10), seg(20))
	st, err := ForField("n", index.FieldLong, s)
	require.NoError(t, err)

	// Score order jumps between segments on every hit.
	var got []int64
	for doc := uint32(0); doc < 4; doc++ {
		for _, segment := range []int{2, 0, 1} {
			require.NoError(t, st.PositionAt(segment, doc))
			got = append(got, drain(st)...)
		}
	}
	assert.Len(t, got, 12)
	assert.Equal(t, []int64{20, 0, 10}, got[:3])
	assert.Equal(t, 3, st.Loads())
}

func TestStream_KeywordHashStability(t *testing.T) {
	a := newSearcher(t, []map[string][]index.Value{{"tag": {index.String("red")}}})
	b := newSearcher(t, []map[string][]index.Value{{}, {"tag": {index.String("blue"), index.String("red")}}})

	sa, err := ForField("tag", index.FieldKeyword, a)
	require.NoError(t, err)
	sb, err := ForField("tag", index.FieldKeyword, b)
	require.NoError(t, err)
	assert.True(t, sa.Hashed())

	require.NoError(t, sa.PositionAt(0, 0))
	require.NoError(t, sb.PositionAt(0, 1))
	ha, hb := drain(sa), drain(sb)
	require.Len(t, ha, 1)
	assert.Contains(t, hb, ha[0])
	assert.Equal(t, hash.Murmur64([]byte("red")), ha[0])

	require.NoError(t, sb.PositionAt(0, 1))
	assert.Equal(t, "blue", string(sb.NextBytes()))
}

func TestStream_MissingField(t *testing.T) {
	s := newSearcher(t,
		[]map[string][]index.Value{{"tag": {index.String("x")}}},
		[]map[string][]index.Value{{"n": {index.Int(1)}}},
	)
	st, err := ForField("n", index.FieldLong, s)
	require.NoError(t, err)
	require.NoError(t, st.PositionAt(0, 0))
	assert.False(t, st.HasNext())
	require.NoError(t, st.PositionAt(1, 0))
	assert.Equal(t, []int64{1}, drain(st))
}
