// Package index is the document store term collection reads from.
//
// A Shard holds immutable Segments. Each segment keeps roaring postings per
// (field, value), the documents of every type, and the stored field values
// that FieldData is uninverted from. FieldData is loaded lazily per
// (segment, field) through the shard's FieldDataCache.
//
// Readers acquire a Searcher, a point-in-time view of the segments, and must
// close it:
//
//	s, err := shard.Acquire()
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
// Segments are built with a Writer or loaded from newline-delimited JSON
// blobs with Load.
package index
