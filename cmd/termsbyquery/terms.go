package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	sirenjoin "github.com/SentiOne/siren-join"
	"github.com/SentiOne/siren-join/codec"
	"github.com/SentiOne/siren-join/termset"
)

type termsFlags struct {
	indices          []string
	types            []string
	field            string
	query            string
	encoding         string
	ordering         string
	expectedTerms    int64
	maxTermsPerShard int64
	routing          []string
	preference       string
	cache            bool
}

// termsOutput is the printed form of a response. Exact sets list their
// terms; Bloom filters only report their size.
type termsOutput struct {
	RequestID        string                   `json:"request_id" yaml:"request_id"`
	Encoding         string                   `json:"encoding" yaml:"encoding"`
	Size             int64                    `json:"size" yaml:"size"`
	Bytes            int                      `json:"bytes" yaml:"bytes"`
	TookMillis       int64                    `json:"took_in_millis" yaml:"took_in_millis"`
	TotalShards      int                      `json:"total_shards" yaml:"total_shards"`
	SuccessfulShards int                      `json:"successful_shards" yaml:"successful_shards"`
	FailedShards     int                      `json:"failed_shards" yaml:"failed_shards"`
	ShardFailures    []sirenjoin.ShardFailure `json:"shard_failures,omitempty" yaml:"shard_failures,omitempty"`
	Cached           bool                     `json:"cached,omitempty" yaml:"cached,omitempty"`
	Values           []int64                  `json:"values,omitempty" yaml:"values,omitempty"`
	Terms            []string                 `json:"terms,omitempty" yaml:"terms,omitempty"`
}

func newTermsCmd(g *globalFlags) *cobra.Command {
	f := &termsFlags{}
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "Run a terms-by-query request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return g.withCluster(cmd, func(ctx context.Context, c *sirenjoin.Cluster, out codec.Codec) error {
				resp, err := c.TermsByQuery(ctx, req)
				if err != nil {
					return err
				}
				o, err := render(resp)
				if err != nil {
					return err
				}
				return write(cmd.OutOrStdout(), out, o)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.indices, "index", "i", nil, "indices, aliases or patterns (default all)")
	fl.StringSliceVar(&f.types, "type", nil, "document types (default all)")
	fl.StringVarP(&f.field, "field", "f", "", "field to collect")
	fl.StringVarP(&f.query, "query", "q", "", "JSON query (default match all)")
	fl.StringVarP(&f.encoding, "encoding", "e", "long", "term encoding (long, integer, bloom, bytes)")
	fl.StringVar(&f.ordering, "ordering", "default", "document ordering (default, doc_score)")
	fl.Int64Var(&f.expectedTerms, "expected-terms", 0, "expected number of terms")
	fl.Int64Var(&f.maxTermsPerShard, "max-terms-per-shard", 0, "cap on the terms of each shard (0 is unbounded)")
	fl.StringSliceVar(&f.routing, "routing", nil, "routing keys")
	fl.StringVar(&f.preference, "preference", "", `shard preference, e.g. "_shards:0,2"`)
	fl.BoolVar(&f.cache, "cache", false, "serve from and fill the filter join cache")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (f *termsFlags) request() (*sirenjoin.Request, error) {
	enc, err := termset.ParseEncoding(f.encoding)
	if err != nil {
		return nil, err
	}
	ord, err := sirenjoin.ParseOrdering(f.ordering)
	if err != nil {
		return nil, err
	}
	req := &sirenjoin.Request{
		Indices:          f.indices,
		Types:            f.types,
		Field:            f.field,
		Encoding:         enc,
		ExpectedTerms:    f.expectedTerms,
		MaxTermsPerShard: f.maxTermsPerShard,
		Ordering:         ord,
		Routing:          f.routing,
		Preference:       f.preference,
		Cache:            f.cache,
	}
	if q := strings.TrimSpace(f.query); q != "" {
		req.Query = []byte(q)
	}
	return req, nil
}

func render(resp *sirenjoin.Response) (*termsOutput, error) {
	o := &termsOutput{
		RequestID:        resp.RequestID,
		Encoding:         resp.Encoding.String(),
		Size:             resp.Size,
		Bytes:            len(resp.Terms),
		TookMillis:       resp.TookMillis,
		TotalShards:      resp.TotalShards,
		SuccessfulShards: resp.SuccessfulShards,
		FailedShards:     resp.FailedShards,
		ShardFailures:    resp.ShardFailures,
		Cached:           resp.Cached,
	}
	set, err := resp.TermSet(nil)
	if err != nil {
		return nil, err
	}
	defer set.Release()
	switch resp.Encoding {
	case termset.Long, termset.Integer:
		o.Values = set.Values()
	case termset.Bytes:
		for _, t := range set.Terms() {
			o.Terms = append(o.Terms, string(t))
		}
	}
	return o, nil
}
