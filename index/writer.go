package index

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrUnknownType is returned when a document's type is not mapped.
	ErrUnknownType = errors.New("index: unknown document type")

	// ErrInvalidValue is returned when a value cannot be stored in its field.
	ErrInvalidValue = errors.New("index: invalid value for field")

	// ErrSegmentFull is returned when a segment reached its maximum document count.
	ErrSegmentFull = errors.New("index: segment full")
)

// Writer accumulates documents into a Segment. Fields that the document's
// type does not map are ignored. A Writer is not safe for concurrent use.
type Writer struct {
	mapping Mapping
	seg     *Segment
	typeIdx map[string]uint16
}

// NewWriter returns a writer for documents described by mapping.
func NewWriter(mapping Mapping) *Writer {
	w := &Writer{mapping: mapping}
	w.reset()
	return w
}

func (w *Writer) reset() {
	w.seg = &Segment{
		typeDocs:   make(map[string]*roaring.Bitmap),
		fieldTypes: make(map[string]FieldType),
		postings:   make(map[string]map[string]*roaring.Bitmap),
		exists:     make(map[string]*roaring.Bitmap),
	}
	w.typeIdx = make(map[string]uint16)
}

// Len returns the number of buffered documents.
func (w *Writer) Len() int { return int(w.seg.numDocs) }

// Add appends a document and returns its segment-local id.
func (w *Writer) Add(docType string, fields map[string][]Value) (uint32, error) {
	props, ok := w.mapping[docType]
	if !ok {
		return 0, fmt.Errorf("%w [%s]", ErrUnknownType, docType)
	}
	seg := w.seg
	if seg.numDocs == math.MaxUint32 {
		return 0, ErrSegmentFull
	}

	stored := make(map[string][]Value, len(fields))
	for field, values := range fields {
		ft, ok := props[field]
		if !ok {
			continue
		}
		coerced := make([]Value, 0, len(values))
		for _, v := range values {
			c, ok := v.Coerce(ft)
			if !ok {
				return 0, fmt.Errorf("%w: [%s] of type %s cannot hold %+v", ErrInvalidValue, field, ft, v)
			}
			coerced = append(coerced, c)
		}
		if len(coerced) > 0 {
			stored[field] = coerced
		}
	}

	doc := seg.numDocs
	ti, ok := w.typeIdx[docType]
	if !ok {
		ti = uint16(len(seg.types))
		w.typeIdx[docType] = ti
		seg.types = append(seg.types, docType)
		seg.typeDocs[docType] = roaring.New()
	}
	seg.docTypes = append(seg.docTypes, ti)
	seg.typeDocs[docType].Add(doc)

	for field, values := range stored {
		seg.fieldTypes[field] = props[field]
		byValue := seg.postings[field]
		if byValue == nil {
			byValue = make(map[string]*roaring.Bitmap)
			seg.postings[field] = byValue
			seg.exists[field] = roaring.New()
		}
		seg.exists[field].Add(doc)
		for _, v := range values {
			key := v.Key()
			bm := byValue[key]
			if bm == nil {
				bm = roaring.New()
				byValue[key] = bm
			}
			bm.Add(doc)
		}
	}
	seg.stored = append(seg.stored, stored)
	seg.numDocs++
	return doc, nil
}

// Flush returns the buffered documents as a Segment and starts a new one.
// It returns nil when nothing was added.
func (w *Writer) Flush() *Segment {
	if w.seg.numDocs == 0 {
		return nil
	}
	seg := w.seg
	for _, byValue := range seg.postings {
		for _, bm := range byValue {
			bm.RunOptimize()
		}
	}
	seg.id = segmentSeq.Add(1)
	w.reset()
	return seg
}
