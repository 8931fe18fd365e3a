package testutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/index"
)

var mapping = index.Mapping{"tweet": {"user": index.FieldKeyword, "likes": index.FieldLong, "tags": index.FieldKeyword}}

func TestDocs(t *testing.T) {
	rng := NewRNG(4711)

	docs := rng.Docs(100, "tweet", KeywordField("user", 10), LongField("likes", 50))

	require.Len(t, docs, 100)
	for _, d := range docs {
		assert.Equal(t, "tweet", d.Type)
		require.Len(t, d.Fields["user"], 1)
		require.Len(t, d.Fields["likes"], 1)
		assert.Less(t, d.Fields["likes"][0].I64, int64(50))
	}
	assert.LessOrEqual(t, len(DistinctKeywords(docs, "user")), 10)
	assert.LessOrEqual(t, len(DistinctLongs(docs, "likes")), 50)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	d1 := rng.Docs(20, "tweet", KeywordField("user", 1000))

	rng.Reset()
	d2 := rng.Docs(20, "tweet", KeywordField("user", 1000))

	assert.Equal(t, d1, d2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestSplit(t *testing.T) {
	docs := NewRNG(1).Docs(10, "tweet", LongField("likes", 5))

	parts := Split(docs, 3)

	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 3)
	assert.Len(t, parts[1], 3)
	assert.Len(t, parts[2], 4)
}

func TestSegment(t *testing.T) {
	docs := NewRNG(7).Docs(50, "tweet", MultiKeywordField("tags", 5, 3))

	seg, err := Segment(mapping, docs)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), seg.NumDocs())

	var want uint64
	for _, d := range docs {
		if len(d.Fields["tags"]) > 0 {
			want++
		}
	}
	assert.Equal(t, want, seg.Exists("tags").GetCardinality())
}

func TestNDJSON(t *testing.T) {
	docs := NewRNG(9).Docs(30, "tweet", KeywordField("user", 4), LongField("likes", 9))

	raw, err := NDJSON(docs)
	require.NoError(t, err)

	w := index.NewWriter(mapping)
	require.NoError(t, index.ReadDocuments(bytes.NewReader(raw), "", w))
	assert.Equal(t, 30, w.Len())
}
