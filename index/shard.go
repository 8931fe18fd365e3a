package index

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrShardClosed is returned when acquiring a searcher on a closed shard.
var ErrShardClosed = errors.New("index: shard closed")

// ShardID identifies a shard of an index.
type ShardID struct {
	Index string
	Shard int
}

func (id ShardID) String() string {
	return fmt.Sprintf("[%s][%d]", id.Index, id.Shard)
}

// Shard is one partition of an index: a mapping, a list of immutable
// segments and the caches built over them.
type Shard struct {
	id      ShardID
	mapping Mapping

	mu       sync.RWMutex
	segments []*Segment
	closed   bool

	active    atomic.Bool
	searchers atomic.Int64
	fieldData *FieldDataCache
}

// NewShard creates an empty, active shard.
func NewShard(id ShardID, mapping Mapping) *Shard {
	s := &Shard{
		id:        id,
		mapping:   mapping,
		fieldData: NewFieldDataCache(0),
	}
	s.active.Store(true)
	return s
}

// ID returns the shard id.
func (s *Shard) ID() ShardID { return s.id }

// Mapping returns the shard's mapping.
func (s *Shard) Mapping() Mapping { return s.mapping }

// Active reports whether the shard currently serves requests.
func (s *Shard) Active() bool { return s.active.Load() }

// SetActive marks the shard as serving or not.
func (s *Shard) SetActive(v bool) { s.active.Store(v) }

// FieldData returns the shard's field data cache.
func (s *Shard) FieldData() *FieldDataCache { return s.fieldData }

// OpenSearchers returns the number of searchers not yet closed.
func (s *Shard) OpenSearchers() int64 { return s.searchers.Load() }

// AddSegment appends an immutable segment. Searchers acquired earlier do
// not see it.
func (s *Shard) AddSegment(seg *Segment) {
	if seg == nil {
		return
	}
	s.mu.Lock()
	s.segments = append(s.segments, seg)
	s.mu.Unlock()
}

// NumDocs returns the number of documents across all segments.
func (s *Shard) NumDocs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, seg := range s.segments {
		n += int64(seg.numDocs)
	}
	return n
}

// NumSegments returns the number of segments.
func (s *Shard) NumSegments() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segments)
}

// Acquire returns a point-in-time searcher. It must be closed.
func (s *Shard) Acquire() (*Searcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrShardClosed, s.id)
	}
	s.searchers.Add(1)
	return &Searcher{shard: s, segments: s.segments[:len(s.segments):len(s.segments)]}, nil
}

// Close rejects new searchers and drops cached field data.
func (s *Shard) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.fieldData.Purge()
	return nil
}

// Searcher holds references to a fixed set of segments.
type Searcher struct {
	shard    *Shard
	segments []*Segment
	once     sync.Once
}

// Shard returns the shard the searcher reads.
func (r *Searcher) Shard() *Shard { return r.shard }

// Segments returns the segments in ordinal order.
func (r *Searcher) Segments() []*Segment { return r.segments }

// NumDocs returns the number of documents visible to the searcher.
func (r *Searcher) NumDocs() int64 {
	var n int64
	for _, seg := range r.segments {
		n += int64(seg.numDocs)
	}
	return n
}

// FieldData returns the accessor of field in the segment with the given
// ordinal, through the shard's cache.
func (r *Searcher) FieldData(segment int, field string) (*FieldData, bool) {
	return r.shard.fieldData.Get(r.segments[segment], field)
}

// Close releases the segment references. Extra calls are no-ops.
func (r *Searcher) Close() error {
	r.once.Do(func() { r.shard.searchers.Add(-1) })
	return nil
}
