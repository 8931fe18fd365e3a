// Package query parses JSON query sources and evaluates them against the
// segments of a shard searcher.
//
// A parsed Query is bound to one segment at a time through a Context, which
// fixes the document types and the timestamp "now" resolves to:
//
//	p := query.AcquireParser()
//	defer p.Release()
//	q, err := p.Parse([]byte(`{"query": {"range": {"ts": {"gte": "now-1d/d"}}}}`))
//	...
//	qc := query.NewContext(searcher, []string{"tweet"}, nowMillis)
//	docs, score, err := qc.Match(q, 0)
//
// Term clauses score by the BM25 inverse document frequency of the term over
// the shard; other leaf clauses score 1.
package query
