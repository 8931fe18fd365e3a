package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/SentiOne/siren-join/index"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63n returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63n(n)
}

// Doc is one synthetic document.
type Doc struct {
	Type   string
	Fields map[string][]index.Value
}

// FieldGen generates the values of one field of a document.
type FieldGen struct {
	Name string
	gen  func(r *rand.Rand) []index.Value
}

// KeywordField generates one keyword out of cardinality distinct values,
// "<name>-<n>".
func KeywordField(name string, cardinality int) FieldGen {
	return FieldGen{Name: name, gen: func(r *rand.Rand) []index.Value {
		return []index.Value{index.String(fmt.Sprintf("%s-%d", name, r.Intn(cardinality)))}
	}}
}

// MultiKeywordField generates up to maxValues keywords per document; some
// documents get none.
func MultiKeywordField(name string, cardinality, maxValues int) FieldGen {
	return FieldGen{Name: name, gen: func(r *rand.Rand) []index.Value {
		n := r.Intn(maxValues + 1)
		vals := make([]index.Value, n)
		for i := range vals {
			vals[i] = index.String(fmt.Sprintf("%s-%d", name, r.Intn(cardinality)))
		}
		return vals
	}}
}

// LongField generates one value in [0, max).
func LongField(name string, max int64) FieldGen {
	return FieldGen{Name: name, gen: func(r *rand.Rand) []index.Value {
		return []index.Value{index.Int(r.Int63n(max))}
	}}
}

// Docs generates n documents of docType.
func (r *RNG) Docs(n int, docType string, fields ...FieldGen) []Doc {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]Doc, n)
	for i := range docs {
		d := Doc{Type: docType, Fields: make(map[string][]index.Value, len(fields))}
		for _, f := range fields {
			if vals := f.gen(r.rand); len(vals) > 0 {
				d.Fields[f.Name] = vals
			}
		}
		docs[i] = d
	}
	return docs
}

// Split partitions docs into n consecutive, nearly equal parts.
func Split(docs []Doc, n int) [][]Doc {
	parts := make([][]Doc, n)
	for i := range parts {
		lo, hi := i*len(docs)/n, (i+1)*len(docs)/n
		parts[i] = docs[lo:hi]
	}
	return parts
}

// Segment builds one segment of docs.
func Segment(mapping index.Mapping, docs []Doc) (*index.Segment, error) {
	w := index.NewWriter(mapping)
	for i, d := range docs {
		if _, err := w.Add(d.Type, d.Fields); err != nil {
			return nil, fmt.Errorf("testutil: doc %d: %w", i, err)
		}
	}
	return w.Flush(), nil
}

// NDJSON renders docs as a newline-delimited JSON segment blob.
func NDJSON(docs []Doc) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		m := make(map[string]any, len(d.Fields)+1)
		m["_type"] = d.Type
		for name, vals := range d.Fields {
			out := make([]any, len(vals))
			for i, v := range vals {
				switch v.Kind {
				case index.KindInt:
					out[i] = v.I64
				case index.KindFloat:
					out[i] = v.F64
				default:
					out[i] = v.S
				}
			}
			m[name] = out
		}
		if err := enc.Encode(m); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DistinctKeywords returns the sorted distinct keyword values of field.
func DistinctKeywords(docs []Doc, field string) []string {
	seen := make(map[string]struct{})
	for _, d := range docs {
		for _, v := range d.Fields[field] {
			seen[v.S] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// DistinctLongs returns the sorted distinct integer values of field.
func DistinctLongs(docs []Doc, field string) []int64 {
	seen := make(map[int64]struct{})
	for _, d := range docs {
		for _, v := range d.Fields[field] {
			seen[v.I64] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
