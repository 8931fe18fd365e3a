package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	sirenjoin "github.com/SentiOne/siren-join"
	"github.com/SentiOne/siren-join/blobstore"
	"github.com/SentiOne/siren-join/blobstore/minio"
	"github.com/SentiOne/siren-join/blobstore/s3"
	"github.com/SentiOne/siren-join/cache"
)

// fileConfig is the YAML cluster description.
//
//	nodes: [n0, n1]
//	memory_limit_bytes: 268435456
//	workers: 8
//	shard_timeout: 5s
//	cache:
//	  max_cost: 67108864
//	  ttl: 10m
//	store:
//	  type: local
//	  root: ./data
//	indices:
//	  - name: tweets
//	    shards: 2
//	    default_type: tweet
//	    mapping:
//	      tweet: {user: keyword, likes: long}
//	    segments:
//	      0: [tweets/0/seg-0.ndjson.zst]
//	      1: [tweets/1/seg-0.ndjson.zst]
type fileConfig struct {
	Nodes            []string      `yaml:"nodes"`
	MemoryLimitBytes int64         `yaml:"memory_limit_bytes"`
	Workers          int           `yaml:"workers"`
	ShardTimeout     time.Duration `yaml:"shard_timeout"`
	IOLimitBytes     int64         `yaml:"io_limit_bytes_per_sec"`
	Cache            cacheConfig   `yaml:"cache"`
	Store            storeConfig   `yaml:"store"`
	Indices          []indexConfig `yaml:"indices"`
}

type cacheConfig struct {
	Disabled    bool          `yaml:"disabled"`
	MaxCost     int64         `yaml:"max_cost"`
	NumCounters int64         `yaml:"num_counters"`
	TTL         time.Duration `yaml:"ttl"`
}

type storeConfig struct {
	// Type is local, s3 or minio.
	Type   string `yaml:"type"`
	Root   string `yaml:"root"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`

	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

type indexConfig struct {
	sirenjoin.IndexConfig `yaml:",inline"`
	// Segments lists the segment blobs of each shard number.
	Segments map[int][]string `yaml:"segments"`
}

func loadConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func (fc *fileConfig) options(level slog.Level) []sirenjoin.Option {
	opts := []sirenjoin.Option{
		sirenjoin.WithLogLevel(level),
		sirenjoin.WithMemoryLimit(fc.MemoryLimitBytes),
		sirenjoin.WithShardTimeout(fc.ShardTimeout),
		sirenjoin.WithIOLimit(fc.IOLimitBytes),
		sirenjoin.WithCache(cache.Config{
			MaxCost:     fc.Cache.MaxCost,
			NumCounters: fc.Cache.NumCounters,
			TTL:         fc.Cache.TTL,
		}),
	}
	if fc.Workers > 0 {
		opts = append(opts, sirenjoin.WithWorkers(fc.Workers))
	}
	if fc.Cache.Disabled {
		opts = append(opts, sirenjoin.WithoutCache())
	}
	return opts
}

func (fc *fileConfig) openStore(ctx context.Context) (blobstore.Store, error) {
	sc := fc.Store
	switch sc.Type {
	case "", "local":
		root := sc.Root
		if root == "" {
			root = "."
		}
		return blobstore.NewLocalStore(root), nil
	case "s3":
		return s3.NewFromEnv(ctx, sc.Bucket, sc.Prefix, s3.Options{
			Region:    sc.Region,
			Endpoint:  sc.Endpoint,
			PathStyle: sc.PathStyle,
		})
	case "minio":
		return minio.Dial(sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Secure, sc.Bucket, sc.Prefix)
	default:
		return nil, fmt.Errorf("unknown store type [%s]", sc.Type)
	}
}

// openCluster builds the cluster and loads every configured segment.
func openCluster(ctx context.Context, fc *fileConfig, level slog.Level) (*sirenjoin.Cluster, error) {
	cfg := sirenjoin.Config{Nodes: fc.Nodes}
	for _, ic := range fc.Indices {
		cfg.Indices = append(cfg.Indices, ic.IndexConfig)
	}
	c, err := sirenjoin.NewCluster(cfg, fc.options(level)...)
	if err != nil {
		return nil, err
	}

	store, err := fc.openStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	for _, ic := range fc.Indices {
		shards := make([]int, 0, len(ic.Segments))
		for n := range ic.Segments {
			shards = append(shards, n)
		}
		slices.Sort(shards)
		for _, n := range shards {
			if err := c.Load(ctx, store, ic.Name, n, ic.Segments[n]); err != nil {
				c.Close()
				return nil, err
			}
		}
	}
	return c, nil
}
