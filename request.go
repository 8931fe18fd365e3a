package sirenjoin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/SentiOne/siren-join/termset"
)

// ActionName identifies the terms-by-query action on the transport.
const ActionName = "indices:data/read/search/termsbyquery"

// TransportOptions are the options shard requests are sent with.
type TransportOptions struct {
	// Compress is off: the term encodings compress poorly and compression
	// made payloads larger.
	Compress bool
}

// DefaultTransportOptions returns the options of ActionName.
func DefaultTransportOptions() TransportOptions { return TransportOptions{Compress: false} }

// Ordering selects which matching documents contribute terms when a
// per-shard cap applies.
type Ordering uint8

const (
	// OrderingDefault visits documents in index order.
	OrderingDefault Ordering = iota
	// OrderingDocScore visits the best scoring documents first. It requires
	// MaxTermsPerShard.
	OrderingDocScore
)

// ErrUnknownOrdering is returned by ParseOrdering for unrecognized names.
var ErrUnknownOrdering = errors.New("sirenjoin: unknown ordering")

func (o Ordering) String() string {
	switch o {
	case OrderingDefault:
		return "default"
	case OrderingDocScore:
		return "doc_score"
	default:
		return fmt.Sprintf("ordering(%d)", uint8(o))
	}
}

// ParseOrdering parses an ordering name, case-insensitively. The empty
// string selects OrderingDefault.
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return OrderingDefault, nil
	case "doc_score":
		return OrderingDocScore, nil
	default:
		return 0, fmt.Errorf("%w [%s]", ErrUnknownOrdering, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Ordering) MarshalText() ([]byte, error) {
	if o > OrderingDocScore {
		return nil, fmt.Errorf("%w [%d]", ErrUnknownOrdering, uint8(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Ordering) UnmarshalText(b []byte) error {
	v, err := ParseOrdering(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Request asks for the distinct values of Field over the documents of
// Indices that match Query. A Request must not be modified while it runs.
type Request struct {
	// Indices are index names, aliases or wildcard patterns; none means all.
	Indices []string `json:"indices,omitempty" yaml:"indices,omitempty"`
	// Types restricts the document types; none means all.
	Types []string `json:"types,omitempty" yaml:"types,omitempty"`
	Field string   `json:"field" yaml:"field"`
	// Query is a JSON query source; empty matches all documents.
	Query []byte `json:"query,omitempty" yaml:"query,omitempty"`
	// Encoding of the collected terms; zero means termset.Long.
	Encoding termset.Encoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	// ExpectedTerms presizes term sets and, for Bloom sets, fixes their
	// geometry; 0 lets the size follow the data.
	ExpectedTerms int64 `json:"expected_terms,omitempty" yaml:"expected_terms,omitempty"`
	// MaxTermsPerShard caps the distinct terms each shard contributes; 0
	// means no cap.
	MaxTermsPerShard int64    `json:"max_terms_per_shard,omitempty" yaml:"max_terms_per_shard,omitempty"`
	Ordering         Ordering `json:"ordering,omitempty" yaml:"ordering,omitempty"`
	// Routing keys narrow each index to the shards they hash to.
	Routing []string `json:"routing,omitempty" yaml:"routing,omitempty"`
	// Preference selects shards, for example "_shards:0,2".
	Preference string `json:"preference,omitempty" yaml:"preference,omitempty"`
	// Cache memoizes complete responses in the coordinating node's filter
	// join cache.
	Cache bool `json:"cache,omitempty" yaml:"cache,omitempty"`
}

func (r *Request) encoding() termset.Encoding {
	if r.Encoding == 0 {
		return termset.Long
	}
	return r.Encoding
}

// Validate reports configuration errors. A request that fails validation
// is never dispatched.
func (r *Request) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Field) == "" {
		errs = append(errs, errors.New("field is required"))
	}
	if !r.encoding().Valid() {
		errs = append(errs, fmt.Errorf("%w [%d]", termset.ErrUnknownEncoding, uint8(r.Encoding)))
	}
	if r.ExpectedTerms < 0 {
		errs = append(errs, fmt.Errorf("expected_terms must be non-negative, got %d", r.ExpectedTerms))
	}
	if r.MaxTermsPerShard < 0 {
		errs = append(errs, fmt.Errorf("max_terms_per_shard must be non-negative, got %d", r.MaxTermsPerShard))
	}
	switch r.Ordering {
	case OrderingDefault:
	case OrderingDocScore:
		if r.MaxTermsPerShard == 0 {
			errs = append(errs, fmt.Errorf("ordering [%s] requires max_terms_per_shard", r.Ordering))
		}
	default:
		errs = append(errs, fmt.Errorf("%w [%d]", ErrUnknownOrdering, uint8(r.Ordering)))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
