package sirenjoin

import (
	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

// ShardFailure describes one shard that failed a request.
type ShardFailure struct {
	ShardID index.ShardID `json:"shard" yaml:"shard"`
	Reason  string        `json:"reason" yaml:"reason"`
	// Err is the classified error; errors.As finds a *ShardExecutionError
	// in its chain.
	Err error `json:"-" yaml:"-"`
}

// Response is the merged outcome of a terms-by-query request.
type Response struct {
	// Terms is the wire encoding of the merged term set.
	Terms    []byte           `json:"terms" yaml:"terms"`
	Encoding termset.Encoding `json:"encoding" yaml:"encoding"`
	// Size is the number of merged terms; for Bloom sets it is the
	// filter's cardinality estimate.
	Size       int64 `json:"size" yaml:"size"`
	TookMillis int64 `json:"took_in_millis" yaml:"took_in_millis"`

	TotalShards      int            `json:"total_shards" yaml:"total_shards"`
	SuccessfulShards int            `json:"successful_shards" yaml:"successful_shards"`
	FailedShards     int            `json:"failed_shards" yaml:"failed_shards"`
	ShardFailures    []ShardFailure `json:"shard_failures,omitempty" yaml:"shard_failures,omitempty"`

	// Cached reports that the response was served from the filter join
	// cache.
	Cached bool `json:"cached,omitempty" yaml:"cached,omitempty"`
	// RequestID correlates the response with log records.
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// TermSet decodes the merged terms. The set is charged to budget and owned
// by the caller.
func (r *Response) TermSet(budget *resource.Controller) (*termset.TermSet, error) {
	return termset.Decode(r.Terms, budget)
}
