package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/SentiOne/siren-join/index"
)

// Query is a parsed match predicate with an optional relevance score.
type Query interface {
	// String returns a compact, stable rendering of the query.
	String() string

	weight(c *segmentContext) (*weight, error)
}

// weight is a query bound to one segment: the matching documents and the
// score of a matching document.
type weight struct {
	docs  *bitset.BitSet
	score func(doc uint32) float64
}

func constant(docs *bitset.BitSet, s float64) *weight {
	return &weight{docs: docs, score: func(uint32) float64 { return s }}
}

func fromRoaring(bm *roaring.Bitmap, numDocs uint32) *bitset.BitSet {
	bs := bitset.New(uint(numDocs))
	if bm == nil {
		return bs
	}
	it := bm.Iterator()
	for it.HasNext() {
		bs.Set(uint(it.Next()))
	}
	return bs
}

// MatchAll matches every document with score 1.
type MatchAll struct{}

func (MatchAll) String() string { return "*:*" }

func (MatchAll) weight(c *segmentContext) (*weight, error) {
	n := c.seg.NumDocs()
	bs := bitset.New(uint(n))
	bs.FlipRange(0, uint(n))
	return constant(bs, 1), nil
}

// Term matches documents whose field holds Value. It scores by the inverse
// document frequency of the value across the shard.
type Term struct {
	Field string
	Value index.Value
}

func (q *Term) String() string { return q.Field + ":" + renderValue(q.Value) }

func (q *Term) weight(c *segmentContext) (*weight, error) {
	docs := fromRoaring(c.seg.Postings(q.Field, q.Value), c.seg.NumDocs())
	return constant(docs, c.idf(q.Field, q.Value)), nil
}

// Terms matches documents whose field holds any of Values, with constant score.
type Terms struct {
	Field  string
	Values []index.Value
}

func (q *Terms) String() string {
	parts := make([]string, len(q.Values))
	for i, v := range q.Values {
		parts[i] = renderValue(v)
	}
	return q.Field + ":(" + strings.Join(parts, " ") + ")"
}

func (q *Terms) weight(c *segmentContext) (*weight, error) {
	bm := roaring.New()
	for _, v := range q.Values {
		if p := c.seg.Postings(q.Field, v); p != nil {
			bm.Or(p)
		}
	}
	return constant(fromRoaring(bm, c.seg.NumDocs()), 1), nil
}

// Exists matches documents with at least one value for Field.
type Exists struct {
	Field string
}

func (q *Exists) String() string { return "_exists_:" + q.Field }

func (q *Exists) weight(c *segmentContext) (*weight, error) {
	return constant(fromRoaring(c.seg.Exists(q.Field), c.seg.NumDocs()), 1), nil
}

// Bound is one end of a Range. Raw is resolved against the field type when
// the query runs: numbers compare numerically, "now"-based date math
// resolves against the request's fixed timestamp, other strings compare as
// keywords.
type Bound struct {
	Raw       index.Value
	Inclusive bool
}

// Range matches documents with any value of Field within the bounds.
type Range struct {
	Field string
	Lower *Bound
	Upper *Bound
}

func (q *Range) String() string {
	var b strings.Builder
	b.WriteString(q.Field + ":")
	switch {
	case q.Lower == nil:
		b.WriteString("{*")
	case q.Lower.Inclusive:
		b.WriteString("[" + renderValue(q.Lower.Raw))
	default:
		b.WriteString("{" + renderValue(q.Lower.Raw))
	}
	b.WriteString(" TO ")
	switch {
	case q.Upper == nil:
		b.WriteString("*}")
	case q.Upper.Inclusive:
		b.WriteString(renderValue(q.Upper.Raw) + "]")
	default:
		b.WriteString(renderValue(q.Upper.Raw) + "}")
	}
	return b.String()
}

func (q *Range) weight(c *segmentContext) (*weight, error) {
	n := c.seg.NumDocs()
	docs := bitset.New(uint(n))
	ft, ok := c.seg.FieldType(q.Field)
	if !ok {
		return constant(docs, 1), nil
	}
	fd, ok := c.fieldData(q.Field)
	if !ok {
		return constant(docs, 1), nil
	}

	if ft == index.FieldKeyword {
		lo, hi := keywordBound(q.Lower), keywordBound(q.Upper)
		for doc := uint32(0); doc < n; doc++ {
			for i := 0; i < fd.Count(doc); i++ {
				term := string(fd.Bytes(doc, i))
				if inRange(strings.Compare(term, lo), strings.Compare(term, hi), q.Lower, q.Upper) {
					docs.Set(uint(doc))
					break
				}
			}
		}
		return constant(docs, 1), nil
	}

	lo, err := c.numericBound(q.Field, q.Lower)
	if err != nil {
		return nil, err
	}
	hi, err := c.numericBound(q.Field, q.Upper)
	if err != nil {
		return nil, err
	}
	for doc := uint32(0); doc < n; doc++ {
		for i := 0; i < fd.Count(doc); i++ {
			var v float64
			if ft == index.FieldDouble {
				v = fd.Float(doc, i)
			} else {
				v = float64(fd.Int(doc, i))
			}
			if inRange(cmpFloat(v, lo), cmpFloat(v, hi), q.Lower, q.Upper) {
				docs.Set(uint(doc))
				break
			}
		}
	}
	return constant(docs, 1), nil
}

func keywordBound(b *Bound) string {
	if b == nil {
		return ""
	}
	if c, ok := b.Raw.Coerce(index.FieldKeyword); ok {
		return c.S
	}
	return ""
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// inRange reports whether a value is within bounds given its comparison
// against the lower (cl) and upper (cu) bound.
func inRange(cl, cu int, lower, upper *Bound) bool {
	if lower != nil && (cl < 0 || (cl == 0 && !lower.Inclusive)) {
		return false
	}
	if upper != nil && (cu > 0 || (cu == 0 && !upper.Inclusive)) {
		return false
	}
	return true
}

// Bool combines clauses. Must and Should clauses contribute to the score;
// Filter and MustNot do not. Without Must or Filter clauses at least one
// Should clause has to match.
type Bool struct {
	Must               []Query
	Filter             []Query
	Should             []Query
	MustNot            []Query
	MinimumShouldMatch int
}

func (q *Bool) String() string {
	var parts []string
	for _, c := range q.Must {
		parts = append(parts, "+"+c.String())
	}
	for _, c := range q.Filter {
		parts = append(parts, "#"+c.String())
	}
	for _, c := range q.Should {
		parts = append(parts, c.String())
	}
	for _, c := range q.MustNot {
		parts = append(parts, "-"+c.String())
	}
	s := "(" + strings.Join(parts, " ") + ")"
	if q.MinimumShouldMatch > 0 {
		s += fmt.Sprintf("~%d", q.MinimumShouldMatch)
	}
	return s
}

func (q *Bool) weight(c *segmentContext) (*weight, error) {
	n := c.seg.NumDocs()

	compile := func(qs []Query) ([]*weight, error) {
		ws := make([]*weight, 0, len(qs))
		for _, sub := range qs {
			w, err := sub.weight(c)
			if err != nil {
				return nil, err
			}
			ws = append(ws, w)
		}
		return ws, nil
	}
	must, err := compile(q.Must)
	if err != nil {
		return nil, err
	}
	filter, err := compile(q.Filter)
	if err != nil {
		return nil, err
	}
	should, err := compile(q.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := compile(q.MustNot)
	if err != nil {
		return nil, err
	}

	docs := bitset.New(uint(n))
	docs.FlipRange(0, uint(n))
	for _, w := range must {
		docs.InPlaceIntersection(w.docs)
	}
	for _, w := range filter {
		docs.InPlaceIntersection(w.docs)
	}

	required := q.MinimumShouldMatch
	if required == 0 && len(must)+len(filter) == 0 && len(should) > 0 {
		required = 1
	}
	if required > 0 {
		counts := make([]uint16, n)
		for _, w := range should {
			for i, ok := w.docs.NextSet(0); ok; i, ok = w.docs.NextSet(i + 1) {
				counts[i]++
			}
		}
		for i, ok := docs.NextSet(0); ok; i, ok = docs.NextSet(i + 1) {
			if int(counts[i]) < required {
				docs.Clear(i)
			}
		}
	}
	for _, w := range mustNot {
		docs.InPlaceDifference(w.docs)
	}

	scoring := append(must[:len(must):len(must)], should...)
	return &weight{
		docs: docs,
		score: func(doc uint32) float64 {
			var s float64
			for _, w := range scoring {
				if w.docs.Test(uint(doc)) {
					s += w.score(doc)
				}
			}
			if len(scoring) == 0 {
				return 1
			}
			return s
		},
	}, nil
}

func renderValue(v index.Value) string {
	switch v.Kind {
	case index.KindInt:
		return strconv.FormatInt(v.I64, 10)
	case index.KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	default:
		return v.S
	}
}
