// Package termstream iterates the values of one field for a sequence of
// documents, loading each segment's accessor at most once per stream.
package termstream

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/hash"
)

// ErrUnsupportedValueType is returned for fields whose values cannot be
// streamed as terms.
var ErrUnsupportedValueType = errors.New("termstream: unsupported value type")

// AccessorSource provides per-segment field accessors. *index.Searcher
// implements it.
type AccessorSource interface {
	FieldData(segment int, field string) (*index.FieldData, bool)
}

// Stream yields the values of a field for the document it is positioned at.
// Integer fields yield their native values, keyword fields the 64-bit
// MurmurHash3 of their bytes.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	field string
	ft    index.FieldType
	src   AccessorSource

	segment int
	fd      *index.FieldData
	doc     uint32
	i, n    int

	// loaded holds every accessor seen so far, nil for segments without
	// the field. Ranked hits revisit segments out of order.
	loaded map[int]*index.FieldData
	loads  int
	buf   []byte
}

// ForField returns a stream over field, which has type ft.
func ForField(field string, ft index.FieldType, src AccessorSource) (*Stream, error) {
	switch ft {
	case index.FieldLong, index.FieldInteger, index.FieldKeyword:
	default:
		return nil, fmt.Errorf("%w: field [%s] of type [%s]", ErrUnsupportedValueType, field, ft)
	}
	return &Stream{field: field, ft: ft, src: src, segment: -1, loaded: make(map[int]*index.FieldData)}, nil
}

// Field returns the streamed field.
func (s *Stream) Field() string { return s.field }

// Hashed reports whether Next yields hashes rather than native values.
func (s *Stream) Hashed() bool { return s.ft == index.FieldKeyword }

// PositionAt moves the stream to doc of segment. The first visit to a
// segment loads its accessor; a segment without the field yields no values.
func (s *Stream) PositionAt(segment int, doc uint32) error {
	if segment != s.segment {
		fd, seen := s.loaded[segment]
		if !seen {
			var ok bool
			fd, ok = s.src.FieldData(segment, s.field)
			s.loads++
			if ok && fd.Type != s.ft {
				return fmt.Errorf("%w: field [%s] is [%s] in segment %d, expected [%s]",
					ErrUnsupportedValueType, s.field, fd.Type, segment, s.ft)
			}
			if !ok {
				fd = nil
			}
			s.loaded[segment] = fd
		}
		s.segment, s.fd = segment, fd
	}
	s.doc, s.i, s.n = doc, 0, 0
	if s.fd != nil {
		s.n = s.fd.Count(doc)
	}
	return nil
}

// HasNext reports whether the current document has more values.
func (s *Stream) HasNext() bool { return s.i < s.n }

// Next returns the next value as a 64-bit term.
func (s *Stream) Next() int64 {
	i := s.i
	s.i++
	if s.ft == index.FieldKeyword {
		return hash.Murmur64(s.fd.Bytes(s.doc, i))
	}
	return s.fd.Int(s.doc, i)
}

// NextBytes returns the next value as raw bytes: keyword bytes, or the
// decimal form of integers. The slice is valid until the next call.
func (s *Stream) NextBytes() []byte {
	i := s.i
	s.i++
	if s.ft == index.FieldKeyword {
		return s.fd.Bytes(s.doc, i)
	}
	s.buf = strconv.AppendInt(s.buf[:0], s.fd.Int(s.doc, i), 10)
	return s.buf
}

// Loads returns how many accessors the stream has loaded.
func (s *Stream) Loads() int { return s.loads }
