// Package coordinator fans a terms-by-query request out to the target
// shards of a cluster and merges the collected term sets.
//
// Shard operations run on a shared WorkerPool. Responses are buffered by
// shard ordinal and folded in that order once all of them arrived or the
// wait timed out, so the result does not depend on arrival order. Shards
// that are unavailable or too slow are skipped; shards that fail are
// reported as failures without affecting the others.
package coordinator
