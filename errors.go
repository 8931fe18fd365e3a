package sirenjoin

import (
	"errors"
	"fmt"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/coordinator"
	"github.com/SentiOne/siren-join/internal/hits"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/internal/termstream"
	"github.com/SentiOne/siren-join/query"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

var (
	// ErrConfiguration is returned for invalid requests. Such requests fail
	// before any shard is contacted.
	ErrConfiguration = errors.New("sirenjoin: invalid request")

	// ErrFieldResolution reports a field that is not mapped for the
	// requested document types of a shard.
	ErrFieldResolution = errors.New("sirenjoin: field not found")

	// ErrQueryParse reports a malformed query source.
	ErrQueryParse = errors.New("sirenjoin: failed to parse query")

	// ErrUnsupportedValueType reports a field whose values cannot be collected
	// as terms, such as floating point fields.
	ErrUnsupportedValueType = errors.New("sirenjoin: unsupported value type")

	// ErrResourceExhausted reports a term set that would exceed the memory
	// budget of its node.
	ErrResourceExhausted = errors.New("sirenjoin: memory budget exceeded")

	// ErrClosed is returned by operations on a closed Cluster.
	ErrClosed = errors.New("sirenjoin: cluster closed")
)

// ShardExecutionError wraps the failure of one shard with the shard's
// identity. It is found with errors.As in ShardFailure.Err.
type ShardExecutionError = shard.ExecutionError

// translateError classifies internal errors under the public kinds. The
// original chain, including any *ShardExecutionError, stays reachable.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var nf *index.FieldNotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", ErrFieldResolution, err)
	}
	if errors.Is(err, query.ErrParse) || errors.Is(err, query.ErrDateMath) {
		return fmt.Errorf("%w: %w", ErrQueryParse, err)
	}
	if errors.Is(err, termstream.ErrUnsupportedValueType) {
		return fmt.Errorf("%w: %w", ErrUnsupportedValueType, err)
	}
	if errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}

	// Configuration problems found after dispatch are still configuration
	// errors.
	if errors.Is(err, hits.ErrMissingCap) ||
		errors.Is(err, termset.ErrUnknownEncoding) ||
		errors.Is(err, coordinator.ErrIndexNotFound) ||
		errors.Is(err, coordinator.ErrInvalidPreference) {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return err
}
