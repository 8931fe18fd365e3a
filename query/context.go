package query

import (
	"fmt"
	"math"
	"strconv"

	"github.com/bits-and-blooms/bitset"

	"github.com/SentiOne/siren-join/index"
)

// Context evaluates queries against one shard searcher, restricted to a set
// of document types, with a fixed notion of "now".
type Context struct {
	searcher  *index.Searcher
	types     []string
	nowMillis int64

	numDocs int64
	df      map[string]uint64
}

// NewContext creates an evaluation context. No types means all types.
func NewContext(s *index.Searcher, types []string, nowMillis int64) *Context {
	return &Context{
		searcher:  s,
		types:     types,
		nowMillis: nowMillis,
		numDocs:   s.NumDocs(),
		df:        make(map[string]uint64),
	}
}

// NowMillis returns the timestamp "now" resolves to.
func (c *Context) NowMillis() int64 { return c.nowMillis }

// Searcher returns the searcher the context reads.
func (c *Context) Searcher() *index.Searcher { return c.searcher }

// Match evaluates q on the segment with the given ordinal and returns the
// matching documents of the context's types together with their scorer.
// A nil q matches everything.
func (c *Context) Match(q Query, segment int) (*bitset.BitSet, func(doc uint32) float64, error) {
	if q == nil {
		q = MatchAll{}
	}
	sc := &segmentContext{Context: c, seg: c.searcher.Segments()[segment], ord: segment}
	w, err := q.weight(sc)
	if err != nil {
		return nil, nil, err
	}
	if len(c.types) > 0 {
		w.docs.InPlaceIntersection(fromRoaring(sc.seg.TypeDocs(c.types), sc.seg.NumDocs()))
	}
	return w.docs, w.score, nil
}

type segmentContext struct {
	*Context
	seg *index.Segment
	ord int
}

func (c *segmentContext) fieldData(field string) (*index.FieldData, bool) {
	return c.searcher.FieldData(c.ord, field)
}

// idf is the BM25 inverse document frequency of field:value over the shard.
func (c *segmentContext) idf(field string, v index.Value) float64 {
	key := field + "\x00" + v.Key()
	df, ok := c.df[key]
	if !ok {
		for _, seg := range c.searcher.Segments() {
			df += seg.DocFreq(field, v)
		}
		c.df[key] = df
	}
	n, N := float64(df), float64(c.numDocs)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

// numericBound resolves a range bound for a numeric field. A nil bound
// resolves to zero and is ignored by inRange.
func (c *segmentContext) numericBound(field string, b *Bound) (float64, error) {
	if b == nil {
		return 0, nil
	}
	switch b.Raw.Kind {
	case index.KindInt:
		return float64(b.Raw.I64), nil
	case index.KindFloat:
		return b.Raw.F64, nil
	case index.KindString:
		if f, err := strconv.ParseFloat(b.Raw.S, 64); err == nil {
			return f, nil
		}
		ms, err := ResolveDateMath(b.Raw.S, c.nowMillis)
		if err != nil {
			return 0, fmt.Errorf("%w: range on [%s]: %w", ErrParse, field, err)
		}
		return float64(ms), nil
	}
	return 0, fmt.Errorf("%w: range on [%s]: unsupported bound", ErrParse, field)
}
