// Package testutil provides testing utilities for siren-join.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random source and builders for synthetic corpora.
//
// # Random Corpora
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Docs(1000, "tweet", testutil.KeywordField("user", 50), testutil.LongField("likes", 100))
//	seg, _ := testutil.Segment(mapping, docs)
//
// # Expected Results
//
//	want := testutil.DistinctKeywords(docs, "user")
package testutil
