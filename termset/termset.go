package termset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/SentiOne/siren-join/resource"
)

const (
	// DefaultFalsePositiveRate is the target false positive rate of Bloom sets.
	DefaultFalsePositiveRate = 0.01

	// DefaultBloomExpectedTerms sizes a Bloom set when no hint is given.
	DefaultBloomExpectedTerms = 100_000

	// MaxPresize caps the size hint used to presize exact sets.
	MaxPresize = 1 << 24

	minCapacity = 16

	// Modelled bytes per slot of the exact variants, map overhead included.
	longEntryBytes  = 16
	intEntryBytes   = 8
	bytesEntryBytes = 40
)

var (
	// ErrValueOutOfRange is returned when an Integer set receives a value
	// that does not fit in 32 bits.
	ErrValueOutOfRange = errors.New("termset: value out of 32-bit range")

	// ErrEncodingMismatch is returned when sets of different encodings are
	// combined, or a value is inserted through the wrong method.
	ErrEncodingMismatch = errors.New("termset: encoding mismatch")

	// ErrIncompatibleBloom is returned when merging Bloom sets of different geometry.
	ErrIncompatibleBloom = errors.New("termset: incompatible bloom geometry")

	// ErrBloomTooLarge is returned when a size hint asks for a filter
	// larger than any budget could hold.
	ErrBloomTooLarge = fmt.Errorf("termset: bloom filter too large: %w", resource.ErrMemoryLimitExceeded)

	// ErrReleased is returned by operations on a released set.
	ErrReleased = errors.New("termset: set already released")
)

// TermSet is a deduplicated set of terms in one of four encodings. Every
// byte of its backing storage is reserved against a shared
// resource.Controller; Release refunds it.
//
// A TermSet has a single owner and is not safe for concurrent use.
type TermSet struct {
	enc Encoding

	longs map[int64]struct{}
	ints  map[int32]struct{}
	terms map[string]struct{}

	filter     *bloom.BloomFilter
	bloomAdded int64

	// capacity is the modelled slot count of the exact variants; it doubles
	// when full. payload is the summed length of Bytes terms.
	capacity int64
	payload  int64

	budget   *resource.Controller
	charged  int64
	released bool
}

// New creates an empty set presized for sizeHint terms. For Bloom sets the
// hint fixes the filter geometry; 0 selects DefaultBloomExpectedTerms.
func New(enc Encoding, sizeHint int64, budget *resource.Controller) (*TermSet, error) {
	if !enc.Valid() {
		return nil, fmt.Errorf("%w [%d]", ErrUnknownEncoding, uint8(enc))
	}
	s := &TermSet{enc: enc, budget: budget}

	if enc == Bloom {
		m, k, err := bloomGeometry(BloomExpected(sizeHint))
		if err != nil {
			return nil, err
		}
		if err := s.reserve(bitsetBytes(uint64(m))); err != nil {
			return nil, err
		}
		s.filter = bloom.New(m, k)
		return s, nil
	}

	capacity := presize(sizeHint)
	if err := s.reserve(capacity * s.entryBytes()); err != nil {
		return nil, err
	}
	s.capacity = capacity
	switch enc {
	case Long:
		s.longs = make(map[int64]struct{}, capacity)
	case Integer:
		s.ints = make(map[int32]struct{}, capacity)
	case Bytes:
		s.terms = make(map[string]struct{}, capacity)
	}
	return s, nil
}

// BloomExpected returns the expected element count a Bloom set is built
// for given a size hint. Sets with the same hint have the same geometry.
func BloomExpected(sizeHint int64) int64 {
	if sizeHint <= 0 {
		return DefaultBloomExpectedTerms
	}
	return sizeHint
}

func presize(hint int64) int64 {
	hint = min(max(hint, minCapacity), MaxPresize)
	c := int64(minCapacity)
	for c < hint {
		c <<= 1
	}
	return c
}

// maxBloomBits bounds the filter size a hint may ask for.
const maxBloomBits = 1 << 46

// bloomGeometry sizes a filter for n elements at DefaultFalsePositiveRate
// without allocating it.
func bloomGeometry(n int64) (m, k uint, err error) {
	bits := math.Ceil(-float64(n) * math.Log(DefaultFalsePositiveRate) / (math.Ln2 * math.Ln2))
	if bits > maxBloomBits {
		return 0, 0, fmt.Errorf("%w: %d expected terms", ErrBloomTooLarge, n)
	}
	m, k = bloom.EstimateParameters(uint(n), DefaultFalsePositiveRate)
	return m, k, nil
}

func bitsetBytes(bits uint64) int64 {
	return int64((bits+63)/64) * 8
}

// Encoding returns the set's encoding.
func (s *TermSet) Encoding() Encoding { return s.enc }

// Released reports whether Release was called.
func (s *TermSet) Released() bool { return s.released }

// Footprint returns the bytes currently reserved by the set.
func (s *TermSet) Footprint() int64 { return s.charged }

// Size returns the number of distinct terms. For Bloom sets it is the
// filter's cardinality estimate.
func (s *TermSet) Size() int64 {
	switch s.enc {
	case Long:
		return int64(len(s.longs))
	case Integer:
		return int64(len(s.ints))
	case Bytes:
		return int64(len(s.terms))
	case Bloom:
		if s.filter == nil {
			return 0
		}
		return int64(s.filter.ApproximatedSize())
	}
	return 0
}

// Insert adds a 64-bit value to a Long, Integer or Bloom set. It reports
// whether the value was new. For Bloom sets "new" means the filter did not
// already claim the value.
func (s *TermSet) Insert(v int64) (bool, error) {
	if s.released {
		return false, ErrReleased
	}
	switch s.enc {
	case Long:
		if _, ok := s.longs[v]; ok {
			return false, nil
		}
		if err := s.grow(0); err != nil {
			return false, err
		}
		s.longs[v] = struct{}{}
		return true, nil

	case Integer:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return false, fmt.Errorf("%w: %d", ErrValueOutOfRange, v)
		}
		iv := int32(v)
		if _, ok := s.ints[iv]; ok {
			return false, nil
		}
		if err := s.grow(0); err != nil {
			return false, err
		}
		s.ints[iv] = struct{}{}
		return true, nil

	case Bloom:
		var key [8]byte
		binary.LittleEndian.PutUint64(key[:], uint64(v))
		if s.filter.TestAndAdd(key[:]) {
			return false, nil
		}
		s.bloomAdded++
		return true, nil
	}
	return false, fmt.Errorf("%w: Insert on a %s set", ErrEncodingMismatch, s.enc)
}

// InsertBytes adds a term to a Bytes set. The bytes are copied.
func (s *TermSet) InsertBytes(b []byte) (bool, error) {
	if s.released {
		return false, ErrReleased
	}
	if s.enc != Bytes {
		return false, fmt.Errorf("%w: InsertBytes on a %s set", ErrEncodingMismatch, s.enc)
	}
	if _, ok := s.terms[string(b)]; ok {
		return false, nil
	}
	if err := s.grow(int64(len(b))); err != nil {
		return false, err
	}
	s.terms[string(b)] = struct{}{}
	return true, nil
}

// Contains reports whether v is in a Long, Integer or Bloom set. Bloom sets
// may report false positives.
func (s *TermSet) Contains(v int64) bool {
	switch s.enc {
	case Long:
		_, ok := s.longs[v]
		return ok
	case Integer:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return false
		}
		_, ok := s.ints[int32(v)]
		return ok
	case Bloom:
		if s.filter == nil {
			return false
		}
		var key [8]byte
		binary.LittleEndian.PutUint64(key[:], uint64(v))
		return s.filter.Test(key[:])
	}
	return false
}

// ContainsBytes reports whether b is in a Bytes set.
func (s *TermSet) ContainsBytes(b []byte) bool {
	if s.enc != Bytes {
		return false
	}
	_, ok := s.terms[string(b)]
	return ok
}

// Merge adds every term of src to s. src is left unchanged and remains
// owned (and to be released) by the caller.
func (s *TermSet) Merge(src *TermSet) error {
	if s.released || src.released {
		return ErrReleased
	}
	if s.enc != src.enc {
		return fmt.Errorf("%w: cannot merge %s into %s", ErrEncodingMismatch, src.enc, s.enc)
	}

	switch s.enc {
	case Long:
		for v := range src.longs {
			if _, err := s.Insert(v); err != nil {
				return err
			}
		}
	case Integer:
		for v := range src.ints {
			if _, err := s.Insert(int64(v)); err != nil {
				return err
			}
		}
	case Bytes:
		for t := range src.terms {
			if _, ok := s.terms[t]; ok {
				continue
			}
			if err := s.grow(int64(len(t))); err != nil {
				return err
			}
			s.terms[t] = struct{}{}
		}
	case Bloom:
		if s.filter.Cap() != src.filter.Cap() || s.filter.K() != src.filter.K() {
			return fmt.Errorf("%w: m=%d k=%d vs m=%d k=%d", ErrIncompatibleBloom,
				s.filter.Cap(), s.filter.K(), src.filter.Cap(), src.filter.K())
		}
		if err := s.filter.Merge(src.filter); err != nil {
			return fmt.Errorf("%w: %w", ErrIncompatibleBloom, err)
		}
		s.bloomAdded += src.bloomAdded
	}
	return nil
}

// Values returns the values of a Long or Integer set in ascending order.
func (s *TermSet) Values() []int64 {
	var out []int64
	switch s.enc {
	case Long:
		out = make([]int64, 0, len(s.longs))
		for v := range s.longs {
			out = append(out, v)
		}
	case Integer:
		out = make([]int64, 0, len(s.ints))
		for v := range s.ints {
			out = append(out, int64(v))
		}
	default:
		return nil
	}
	slices.Sort(out)
	return out
}

// Terms returns the terms of a Bytes set in ascending byte order.
func (s *TermSet) Terms() [][]byte {
	if s.enc != Bytes {
		return nil
	}
	keys := make([]string, 0, len(s.terms))
	for t := range s.terms {
		keys = append(keys, t)
	}
	slices.SortFunc(keys, strings.Compare)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}

// Release refunds the set's reservation and drops its storage. A TermSet
// must be released exactly once; a second call panics.
func (s *TermSet) Release() {
	if s.released {
		panic("termset: Release called twice")
	}
	s.released = true
	s.budget.ReleaseMemory(s.charged)
	s.charged = 0
	s.longs, s.ints, s.terms, s.filter = nil, nil, nil, nil
}

func (s *TermSet) entryBytes() int64 {
	switch s.enc {
	case Long:
		return longEntryBytes
	case Integer:
		return intEntryBytes
	case Bytes:
		return bytesEntryBytes
	}
	return 0
}

func (s *TermSet) exactLen() int64 {
	return int64(len(s.longs) + len(s.ints) + len(s.terms))
}

// grow reserves room for one more entry of an exact set, plus extra payload
// bytes. Nothing changes when the reservation is denied.
func (s *TermSet) grow(extraPayload int64) error {
	newCap := s.capacity
	for s.exactLen()+1 > newCap {
		newCap <<= 1
	}
	delta := (newCap-s.capacity)*s.entryBytes() + extraPayload
	if err := s.reserve(delta); err != nil {
		return err
	}
	s.capacity = newCap
	s.payload += extraPayload
	return nil
}

func (s *TermSet) reserve(bytes int64) error {
	if err := s.budget.Reserve("termset/"+s.enc.String(), bytes); err != nil {
		return err
	}
	s.charged += max(bytes, 0)
	return nil
}
