// Package collector drains a hit stream into a term set.
package collector

import (
	"context"
	"fmt"

	"github.com/SentiOne/siren-join/internal/hits"
	"github.com/SentiOne/siren-join/internal/termstream"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

// checkInterval is how many hits are visited between context checks.
const checkInterval = 1024

// Options bound a collection.
type Options struct {
	// ExpectedTerms presizes the set; 0 uses the encoding default.
	ExpectedTerms int64
	// MaxTerms stops collection once that many distinct terms were added;
	// 0 means no cap.
	MaxTerms int64
}

// Collector gathers the terms of visited documents into a termset.TermSet.
type Collector struct {
	enc    termset.Encoding
	values *termstream.Stream
	budget *resource.Controller
	opts   Options
}

// New returns a collector that reads values and charges budget.
func New(enc termset.Encoding, values *termstream.Stream, budget *resource.Controller, opts Options) *Collector {
	return &Collector{enc: enc, values: values, budget: budget, opts: opts}
}

// Collect visits every hit and inserts its values. Hits are consumed in
// stream order, so with a cap the terms of earlier hits win, and collection
// may stop in the middle of a document.
//
// The returned set is owned by the caller. On error nothing is returned and
// everything reserved has been refunded.
func (c *Collector) Collect(ctx context.Context, hs *hits.Stream) (_ *termset.TermSet, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, err := termset.New(c.enc, c.opts.ExpectedTerms, c.budget)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			set.Release()
		}
	}()

	var visited, distinct int64
	for hs.Next() {
		visited++
		if visited%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		h := hs.Hit()
		if err := c.values.PositionAt(h.Segment, h.Doc); err != nil {
			return nil, err
		}
		for c.values.HasNext() {
			added, err := c.insert(set)
			if err != nil {
				return nil, err
			}
			if !added {
				continue
			}
			distinct++
			if c.opts.MaxTerms > 0 && distinct >= c.opts.MaxTerms {
				return set, nil
			}
		}
	}
	if err := hs.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func (c *Collector) insert(set *termset.TermSet) (bool, error) {
	if c.enc == termset.Bytes {
		return set.InsertBytes(c.values.NextBytes())
	}
	v := c.values.Next()
	if c.enc == termset.Integer && c.values.Hashed() {
		v = int64(int32(v))
	}
	added, err := set.Insert(v)
	if err != nil {
		return false, fmt.Errorf("collector: field [%s]: %w", c.values.Field(), err)
	}
	return added, nil
}
