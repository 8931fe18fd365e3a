package index

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/SentiOne/siren-join/blobstore"
	"github.com/SentiOne/siren-join/resource"
)

// ErrMalformedDocument is returned for segment lines that are not JSON objects.
var ErrMalformedDocument = errors.New("index: malformed document")

const maxLineBytes = 16 << 20

// LoadOptions configures Load.
type LoadOptions struct {
	// DefaultType is used for documents without a "_type" member.
	DefaultType string
	// Controller rate limits blob reads; nil means unlimited.
	Controller *resource.Controller
	// Concurrency bounds parallel blob decoding; 0 means 4.
	Concurrency int
}

// Load reads segment blobs from store and adds one segment per blob to
// shard, in the order of names. Blobs hold newline-delimited JSON
// documents; names ending in ".zst" or ".lz4" are decompressed first.
//
// A document line looks like:
//
//	{"_type": "tweet", "user": "u1", "tags": ["a", "b"], "likes": 3}
func Load(ctx context.Context, store blobstore.Store, shard *Shard, names []string, opts LoadOptions) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	segments := make([]*Segment, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			seg, err := loadBlob(gctx, store, shard.mapping, name, opts)
			if err != nil {
				return fmt.Errorf("index: load %s into %s: %w", name, shard.id, err)
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, seg := range segments {
		shard.AddSegment(seg)
	}
	return nil
}

func loadBlob(ctx context.Context, store blobstore.Store, mapping Mapping, name string, opts LoadOptions) (*Segment, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	rc, err := blobstore.Reader(ctx, blob)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, closeFn, err := Decompress(name, resource.NewRateLimitedReader(ctx, rc, opts.Controller))
	if err != nil {
		return nil, err
	}
	defer closeFn()

	w := NewWriter(mapping)
	if err := ReadDocuments(r, opts.DefaultType, w); err != nil {
		return nil, err
	}
	return w.Flush(), nil
}

// Decompress wraps r according to the compression suffix of name.
func Decompress(name string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case strings.HasSuffix(name, ".lz4"):
		return lz4.NewReader(r), func() {}, nil
	default:
		return r, func() {}, nil
	}
}

// ReadDocuments parses newline-delimited JSON documents from r into w.
// Members starting with an underscore are metadata; nested objects are
// skipped.
func ReadDocuments(r io.Reader, defaultType string, w *Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			return fmt.Errorf("%w: line %d: invalid JSON", ErrMalformedDocument, line)
		}
		doc := gjson.ParseBytes(raw)
		if !doc.IsObject() {
			return fmt.Errorf("%w: line %d: not an object", ErrMalformedDocument, line)
		}

		docType := doc.Get("_type").String()
		if docType == "" {
			docType = defaultType
		}
		fields := make(map[string][]Value)
		doc.ForEach(func(key, value gjson.Result) bool {
			name := key.String()
			if strings.HasPrefix(name, "_") {
				return true
			}
			if value.IsArray() {
				for _, v := range value.Array() {
					if jv, ok := jsonValue(v); ok {
						fields[name] = append(fields[name], jv)
					}
				}
			} else if jv, ok := jsonValue(value); ok {
				fields[name] = append(fields[name], jv)
			}
			return true
		})
		if _, err := w.Add(docType, fields); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func jsonValue(v gjson.Result) (Value, bool) {
	switch v.Type {
	case gjson.Number:
		if strings.ContainsAny(v.Raw, ".eE") {
			return Float(v.Float()), true
		}
		return Int(v.Int()), true
	case gjson.String:
		return String(v.String()), true
	case gjson.True, gjson.False:
		return String(v.Raw), true
	default:
		return Value{}, false
	}
}
