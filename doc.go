// Package sirenjoin computes the distinct values of a field over the
// documents of one or more indices that match a query, across every shard
// of a cluster. The merged term set drives the filter side of a relational
// join between indices.
//
// # Quick Start
//
//	cluster, _ := sirenjoin.NewCluster(sirenjoin.Config{
//	    Indices: []sirenjoin.IndexConfig{{
//	        Name:    "tweets",
//	        Shards:  3,
//	        Mapping: index.Mapping{"tweet": {"user": index.FieldKeyword}},
//	    }},
//	})
//	defer cluster.Close()
//
//	_ = cluster.Load(ctx, blobstore.NewLocalStore("./data"), "tweets", 0, []string{"seg-0.ndjson.zst"})
//
//	resp, _ := cluster.TermsByQuery(ctx, &sirenjoin.Request{
//	    Indices:  []string{"tweets"},
//	    Field:    "user",
//	    Query:    []byte(`{"term": {"lang": "en"}}`),
//	    Encoding: termset.Long,
//	})
//	terms, _ := resp.TermSet(nil)
//	defer terms.Release()
//
// # Encodings
//
// Long and Integer collect exact 64 and 32 bit values; keyword terms are
// hashed with murmur3. Bloom collects an approximate filter sized by
// Request.ExpectedTerms. Bytes keeps keyword terms unhashed.
//
// # Caps and Ordering
//
// MaxTermsPerShard bounds the distinct terms each shard contributes. With
// OrderingDocScore the best scoring documents are visited first, so the cap
// keeps the terms of the most relevant documents. OrderingDocScore without a
// cap is a configuration error.
//
// # Memory
//
// Every term set is charged to the memory budget of the node holding it
// (WithMemoryLimit). A shard that would exceed the budget fails on its own;
// the other shards still contribute. All memory is released by the time
// TermsByQuery returns.
//
// # Errors
//
// Requests fail with ErrConfiguration before dispatch when invalid. Shard
// failures are reported in Response.ShardFailures, classified as
// ErrFieldResolution, ErrQueryParse, ErrUnsupportedValueType or
// ErrResourceExhausted, each wrapping a *ShardExecutionError.
package sirenjoin
