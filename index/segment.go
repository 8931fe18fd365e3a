package index

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

var segmentSeq atomic.Uint64

// Segment is an immutable batch of documents. Postings are kept per
// (field, value) as roaring bitmaps of segment-local doc ids; field values
// are kept stored per document and uninverted into FieldData on demand.
type Segment struct {
	id      uint64
	numDocs uint32

	docTypes []uint16
	types    []string
	typeDocs map[string]*roaring.Bitmap

	fieldTypes map[string]FieldType
	postings   map[string]map[string]*roaring.Bitmap
	exists     map[string]*roaring.Bitmap
	stored     []map[string][]Value
}

// ID returns the segment's process-unique id.
func (s *Segment) ID() uint64 { return s.id }

// NumDocs returns the number of documents in the segment.
func (s *Segment) NumDocs() uint32 { return s.numDocs }

// DocType returns the type of doc.
func (s *Segment) DocType(doc uint32) string { return s.types[s.docTypes[doc]] }

// TypeDocs returns the documents of any of the given types. No types means
// all documents. The result is owned by the caller.
func (s *Segment) TypeDocs(types []string) *roaring.Bitmap {
	if len(types) == 0 {
		all := roaring.New()
		all.AddRange(0, uint64(s.numDocs))
		return all
	}
	out := roaring.New()
	for _, t := range types {
		if bm, ok := s.typeDocs[t]; ok {
			out.Or(bm)
		}
	}
	return out
}

// FieldType returns the type the field was indexed with in this segment.
func (s *Segment) FieldType(field string) (FieldType, bool) {
	ft, ok := s.fieldTypes[field]
	return ft, ok
}

// Postings returns the documents whose field holds v, or nil. The bitmap
// is shared and must not be modified.
func (s *Segment) Postings(field string, v Value) *roaring.Bitmap {
	ft, ok := s.fieldTypes[field]
	if !ok {
		return nil
	}
	c, ok := v.Coerce(ft)
	if !ok {
		return nil
	}
	return s.postings[field][c.Key()]
}

// DocFreq returns the number of documents whose field holds v.
func (s *Segment) DocFreq(field string, v Value) uint64 {
	if bm := s.Postings(field, v); bm != nil {
		return bm.GetCardinality()
	}
	return 0
}

// Exists returns the documents with at least one value for field, or nil.
// The bitmap is shared and must not be modified.
func (s *Segment) Exists(field string) *roaring.Bitmap {
	return s.exists[field]
}

// Stored returns the values of field stored for doc.
func (s *Segment) Stored(doc uint32, field string) []Value {
	return s.stored[doc][field]
}

// FieldData is the columnar, per-segment value accessor of one field.
type FieldData struct {
	Type FieldType

	offsets []uint32
	ints    []int64
	floats  []float64
	terms   [][]byte
	bytes   int64
}

// Count returns the number of values doc has.
func (fd *FieldData) Count(doc uint32) int {
	return int(fd.offsets[doc+1] - fd.offsets[doc])
}

// Int returns the i-th integer value of doc.
func (fd *FieldData) Int(doc uint32, i int) int64 {
	return fd.ints[int(fd.offsets[doc])+i]
}

// Float returns the i-th float value of doc.
func (fd *FieldData) Float(doc uint32, i int) float64 {
	return fd.floats[int(fd.offsets[doc])+i]
}

// Bytes returns the i-th keyword value of doc. The slice must not be modified.
func (fd *FieldData) Bytes(doc uint32, i int) []byte {
	return fd.terms[int(fd.offsets[doc])+i]
}

// SizeBytes returns the approximate heap size of the field data.
func (fd *FieldData) SizeBytes() int64 { return fd.bytes }

// loadFieldData uninverts the stored values of field into columns.
func (s *Segment) loadFieldData(field string) (*FieldData, bool) {
	ft, ok := s.fieldTypes[field]
	if !ok {
		return nil, false
	}
	fd := &FieldData{Type: ft, offsets: make([]uint32, s.numDocs+1)}
	var n uint32
	for doc := uint32(0); doc < s.numDocs; doc++ {
		for _, v := range s.stored[doc][field] {
			switch ft {
			case FieldLong, FieldInteger:
				fd.ints = append(fd.ints, v.I64)
			case FieldDouble:
				fd.floats = append(fd.floats, v.F64)
			case FieldKeyword:
				fd.terms = append(fd.terms, []byte(v.S))
				fd.bytes += int64(len(v.S)) + 24
			}
			n++
		}
		fd.offsets[doc+1] = n
	}
	fd.bytes += int64(len(fd.offsets))*4 + int64(len(fd.ints))*8 + int64(len(fd.floats))*8
	return fd, true
}
