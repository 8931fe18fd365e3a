package coordinator

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/SentiOne/siren-join/index"
)

var (
	// ErrIndexNotFound is returned for index names that match no index or alias.
	ErrIndexNotFound = errors.New("coordinator: no such index")

	// ErrInvalidPreference is returned for malformed shard preferences.
	ErrInvalidPreference = errors.New("coordinator: invalid preference")
)

// IndexMetadata describes one index of the cluster.
type IndexMetadata struct {
	Name        string
	Aliases     []string
	NumShards   int
	ReadBlocked bool
}

// RoutingTable resolves index expressions and routing keys to shards.
// It is immutable once built.
type RoutingTable struct {
	indices map[string]IndexMetadata
	aliases map[string][]string
	names   []string
}

// NewRoutingTable builds a routing table of the given indices.
func NewRoutingTable(indices ...IndexMetadata) *RoutingTable {
	rt := &RoutingTable{
		indices: make(map[string]IndexMetadata, len(indices)),
		aliases: make(map[string][]string),
	}
	for _, md := range indices {
		rt.indices[md.Name] = md
		rt.names = append(rt.names, md.Name)
		for _, a := range md.Aliases {
			rt.aliases[a] = append(rt.aliases[a], md.Name)
		}
	}
	slices.Sort(rt.names)
	return rt
}

// Index returns the metadata of a concrete index.
func (rt *RoutingTable) Index(name string) (IndexMetadata, bool) {
	md, ok := rt.indices[name]
	return md, ok
}

// Resolve expands index expressions into sorted, distinct concrete index
// names. Expressions may be comma separated, name indices or aliases, and
// use "*" wildcards. No expressions, "_all" and "*" select every index.
// A wildcard matching nothing is not an error; an unknown name is.
func (rt *RoutingTable) Resolve(expressions []string) ([]string, error) {
	var exprs []string
	for _, e := range expressions {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				exprs = append(exprs, part)
			}
		}
	}
	if len(exprs) == 0 {
		return slices.Clone(rt.names), nil
	}

	seen := make(map[string]struct{})
	out := []string{}
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, e := range exprs {
		if e == "_all" {
			for _, n := range rt.names {
				add(n)
			}
			continue
		}
		if strings.Contains(e, "*") {
			if _, err := path.Match(e, ""); err != nil {
				return nil, fmt.Errorf("%w [%s]: %w", ErrIndexNotFound, e, err)
			}
			for _, n := range rt.names {
				if ok, _ := path.Match(e, n); ok {
					add(n)
				}
			}
			for a, targets := range rt.aliases {
				if ok, _ := path.Match(e, a); ok {
					for _, n := range targets {
						add(n)
					}
				}
			}
			continue
		}
		if _, ok := rt.indices[e]; ok {
			add(e)
			continue
		}
		targets, ok := rt.aliases[e]
		if !ok {
			return nil, fmt.Errorf("%w [%s]", ErrIndexNotFound, e)
		}
		for _, n := range targets {
			add(n)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Blocked returns the indices among names that reject reads.
func (rt *RoutingTable) Blocked(names []string) []string {
	var out []string
	for _, n := range names {
		if rt.indices[n].ReadBlocked {
			out = append(out, n)
		}
	}
	return out
}

// Shards returns the target shards for concrete indices, ordered by index
// name then shard number; the position in the result is the shard's
// ordinal for merging. Routing keys narrow each index to the shards they
// hash to. A "_shards:0,2" preference keeps only the listed shard numbers;
// other preferences do not change the selection.
func (rt *RoutingTable) Shards(indices, routing []string, preference string) ([]index.ShardID, error) {
	only, err := parsePreference(preference)
	if err != nil {
		return nil, err
	}

	var out []index.ShardID
	for _, name := range indices {
		md, ok := rt.indices[name]
		if !ok {
			return nil, fmt.Errorf("%w [%s]", ErrIndexNotFound, name)
		}
		selected := make([]bool, md.NumShards)
		if len(routing) == 0 {
			for i := range selected {
				selected[i] = true
			}
		}
		for _, key := range routing {
			selected[RouteShard(key, md.NumShards)] = true
		}
		for n, ok := range selected {
			if !ok {
				continue
			}
			if only != nil {
				if _, keep := only[n]; !keep {
					continue
				}
			}
			out = append(out, index.ShardID{Index: name, Shard: n})
		}
	}
	return out, nil
}

// RouteShard returns the shard number a routing key maps to.
func RouteShard(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(numShards))
}

func parsePreference(pref string) (map[int]struct{}, error) {
	list, ok := strings.CutPrefix(pref, "_shards:")
	if !ok {
		return nil, nil
	}
	list, _, _ = strings.Cut(list, "|")
	only := make(map[int]struct{})
	for _, part := range strings.Split(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w [%s]", ErrInvalidPreference, pref)
		}
		only[n] = struct{}{}
	}
	return only, nil
}
