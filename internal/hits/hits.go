// Package hits selects the documents a term collection visits: every match
// in index order, or only the best-ranked matches by score.
package hits

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/SentiOne/siren-join/query"
)

// ErrMissingCap is returned when ranked selection is requested without a
// positive cap.
var ErrMissingCap = errors.New("hits: ranked selection requires a positive cap")

// Strategy is the closed set of hit selection strategies.
type Strategy uint8

const (
	// Unordered visits every match, segment by segment, in doc id order.
	Unordered Strategy = iota
	// Ranked visits the top matches by descending score.
	Ranked
)

func (s Strategy) String() string {
	switch s {
	case Unordered:
		return "unordered"
	case Ranked:
		return "ranked"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// Hit is one matching document.
type Hit struct {
	Segment int
	Doc     uint32
	Score   float64
}

// Source produces the matches of one segment.
type Source interface {
	NumSegments() int
	Match(segment int) (*bitset.BitSet, func(doc uint32) float64, error)
}

type querySource struct {
	qc *query.Context
	q  query.Query
}

// FromQuery binds q to the segments of qc.
func FromQuery(qc *query.Context, q query.Query) Source {
	return &querySource{qc: qc, q: q}
}

func (s *querySource) NumSegments() int { return len(s.qc.Searcher().Segments()) }

func (s *querySource) Match(segment int) (*bitset.BitSet, func(uint32) float64, error) {
	return s.qc.Match(s.q, segment)
}

// Stream iterates hits. Call Next until it returns false, then check Err.
type Stream struct {
	strategy Strategy
	src      Source
	limit    int
	cur      Hit
	err      error

	// Unordered
	segment int
	docs    *bitset.BitSet
	next    uint

	// Ranked
	ranked []Hit
	pos    int
	ready  bool
}

// New returns a stream with the given strategy. Ranked streams keep the
// limit best hits and require limit > 0; Unordered streams ignore limit.
func New(strategy Strategy, src Source, limit int64) (*Stream, error) {
	s := &Stream{strategy: strategy, src: src, segment: -1}
	switch strategy {
	case Unordered:
	case Ranked:
		if limit <= 0 {
			return nil, ErrMissingCap
		}
		s.limit = int(min(limit, int64(maxRanked)))
	default:
		return nil, fmt.Errorf("hits: unknown %s", strategy)
	}
	return s, nil
}

// maxRanked bounds the heap of a ranked stream.
const maxRanked = 1 << 24

// Strategy returns the stream's strategy.
func (s *Stream) Strategy() Strategy { return s.strategy }

// Next advances to the next hit.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.strategy == Ranked {
		return s.nextRanked()
	}
	return s.nextUnordered()
}

// Hit returns the current hit.
func (s *Stream) Hit() Hit { return s.cur }

// Err returns the first error encountered.
func (s *Stream) Err() error { return s.err }

func (s *Stream) nextUnordered() bool {
	for {
		if s.docs != nil {
			if i, ok := s.docs.NextSet(s.next); ok {
				s.next = i + 1
				s.cur = Hit{Segment: s.segment, Doc: uint32(i)}
				return true
			}
		}
		s.segment++
		if s.segment >= s.src.NumSegments() {
			s.docs = nil
			return false
		}
		docs, _, err := s.src.Match(s.segment)
		if err != nil {
			s.err = err
			return false
		}
		s.docs, s.next = docs, 0
	}
}

func (s *Stream) nextRanked() bool {
	if !s.ready {
		s.ready = true
		if err := s.collectTop(); err != nil {
			s.err = err
			return false
		}
	}
	if s.pos >= len(s.ranked) {
		return false
	}
	s.cur = s.ranked[s.pos]
	s.pos++
	return true
}

func (s *Stream) collectTop() error {
	h := &minHeap{}
	for seg := 0; seg < s.src.NumSegments(); seg++ {
		docs, score, err := s.src.Match(seg)
		if err != nil {
			return err
		}
		for i, ok := docs.NextSet(0); ok; i, ok = docs.NextSet(i + 1) {
			hit := Hit{Segment: seg, Doc: uint32(i), Score: score(uint32(i))}
			if h.Len() < s.limit {
				heap.Push(h, hit)
			} else if better(hit, (*h)[0]) {
				(*h)[0] = hit
				heap.Fix(h, 0)
			}
		}
	}
	s.ranked = *h
	sort.Slice(s.ranked, func(i, j int) bool { return better(s.ranked[i], s.ranked[j]) })
	return nil
}

// better orders hits by descending score, then ascending segment and doc.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Segment != b.Segment {
		return a.Segment < b.Segment
	}
	return a.Doc < b.Doc
}

// minHeap keeps the worst retained hit at the root.
type minHeap []Hit

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
