// Package cache is the per-node filter join cache. It memoizes encoded
// terms-by-query responses by request fingerprint.
package cache

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64
)

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("cache: closed")

// Config configures a Service.
type Config struct {
	// MaxCost bounds the summed size of cached values in bytes.
	MaxCost int64
	// NumCounters sizes the admission policy; about 10x the expected entries.
	NumCounters int64
	BufferItems int64
	// TTL expires entries; 0 keeps them until evicted or cleared.
	TTL time.Duration
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits        uint64  `json:"hits" yaml:"hits"`
	Misses      uint64  `json:"misses" yaml:"misses"`
	KeysAdded   uint64  `json:"keys_added" yaml:"keys_added"`
	KeysEvicted uint64  `json:"keys_evicted" yaml:"keys_evicted"`
	CostAdded   uint64  `json:"cost_added" yaml:"cost_added"`
	CostEvicted uint64  `json:"cost_evicted" yaml:"cost_evicted"`
	HitRatio    float64 `json:"hit_ratio" yaml:"hit_ratio"`
	Clears      uint64  `json:"clears" yaml:"clears"`
}

// Service caches byte values keyed by 64-bit fingerprints.
type Service struct {
	cache *ristretto.Cache
	ttl   time.Duration

	mu     sync.RWMutex
	closed bool
	clears uint64
}

// New creates a cache. Zero config fields take defaults.
func New(cfg Config) (*Service, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = defaultBufferItems
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Service{cache: c, ttl: cfg.TTL}, nil
}

// Get returns the value cached under key.
func (s *Service) Get(key uint64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Put caches value under key at a cost of its length. Admission is
// asynchronous and may be refused; Put reports whether it was buffered.
// The value must not be modified afterwards.
func (s *Service) Put(key uint64, value []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	return s.cache.SetWithTTL(key, value, int64(len(value))+1, s.ttl)
}

// Wait blocks until buffered writes are applied.
func (s *Service) Wait() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.closed {
		s.cache.Wait()
	}
}

// Clear drops every entry and resets the counters.
func (s *Service) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cache.Clear()
	s.clears++
	return nil
}

// Stats returns the current counters.
func (s *Service) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}
	m := s.cache.Metrics
	return Stats{
		Hits:        m.Hits(),
		Misses:      m.Misses(),
		KeysAdded:   m.KeysAdded(),
		KeysEvicted: m.KeysEvicted(),
		CostAdded:   m.CostAdded(),
		CostEvicted: m.CostEvicted(),
		HitRatio:    m.Ratio(),
		Clears:      s.clears,
	}, nil
}

// Close releases the cache. Extra calls are no-ops.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cache.Close()
}

// Fingerprint hashes parts into a cache key. Parts are length prefixed, so
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...[]byte) uint64 {
	d := xxhash.New()
	var n [binary.MaxVarintLen64]byte
	for _, p := range parts {
		_, _ = d.Write(n[:binary.PutUvarint(n[:], uint64(len(p)))])
		_, _ = d.Write(p)
	}
	return d.Sum64()
}
