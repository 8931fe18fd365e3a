// Package termset implements the compact, deduplicated term sets produced
// by terms-by-query collection.
//
// A TermSet is one of four closed variants selected by Encoding:
//
//   - Long: exact 64-bit values (numeric fields, or hashed keyword terms)
//   - Integer: exact 32-bit values
//   - Bloom: an approximate filter over 64-bit values with a fixed 1% target
//     false positive rate; its size is an estimate
//   - Bytes: exact, unhashed term bytes
//
// Every set reserves its modelled footprint against a shared
// resource.Controller when it is created and whenever it grows. A set that
// cannot reserve returns an error wrapping resource.ErrMemoryLimitExceeded
// and is left as it was; it never drops terms silently.
//
// Ownership is explicit. The creator of a set owns it until it hands it
// over, and the owner must call Release exactly once:
//
//	ts, err := termset.New(termset.Long, 0, budget)
//	if err != nil {
//		return err
//	}
//	defer ts.Release()
//
// Merge unions a source into a target and leaves the source owned by its
// caller. Bloom sets merge only when built for the same expected size.
package termset
