package index

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFieldDataEntries bounds a FieldDataCache when no size is given.
const DefaultFieldDataEntries = 256

type fieldDataKey struct {
	segment uint64
	field   string
}

// FieldDataCache caches per-segment FieldData. Loads are counted so callers
// can check how often uninversion actually ran.
type FieldDataCache struct {
	mu    sync.Mutex
	lru   *lru.Cache[fieldDataKey, *FieldData]
	loads atomic.Int64
}

// NewFieldDataCache creates a cache holding at most entries accessors.
func NewFieldDataCache(entries int) *FieldDataCache {
	if entries <= 0 {
		entries = DefaultFieldDataEntries
	}
	c, err := lru.New[fieldDataKey, *FieldData](entries)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &FieldDataCache{lru: c}
}

// Get returns the FieldData of field in seg, loading it on a miss. The
// second result is false when the segment does not index the field.
func (c *FieldDataCache) Get(seg *Segment, field string) (*FieldData, bool) {
	key := fieldDataKey{segment: seg.id, field: field}
	if fd, ok := c.lru.Get(key); ok {
		return fd, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fd, ok := c.lru.Get(key); ok {
		return fd, true
	}
	fd, ok := seg.loadFieldData(field)
	if !ok {
		return nil, false
	}
	c.loads.Add(1)
	c.lru.Add(key, fd)
	return fd, true
}

// Loads returns how many FieldData were built so far.
func (c *FieldDataCache) Loads() int64 { return c.loads.Load() }

// Len returns the number of cached entries.
func (c *FieldDataCache) Len() int { return c.lru.Len() }

// Purge drops every cached entry.
func (c *FieldDataCache) Purge() { c.lru.Purge() }
