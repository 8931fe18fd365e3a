package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/SentiOne/siren-join/index"
)

const testConfig = `
nodes: [n0, n1]
workers: 2
shard_timeout: 5s
cache:
  ttl: 1m
store:
  type: local
  root: %s
indices:
  - name: tweets
    aliases: [social]
    shards: 2
    default_type: tweet
    mapping:
      tweet: {user: keyword, likes: long}
    segments:
      0: [tweets/0/a.ndjson]
      1: [tweets/1/a.ndjson]
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	blobs := map[string]string{
		"tweets/0/a.ndjson": `{"user": "u1", "likes": 3}
{"user": "u2", "likes": 5}
`,
		"tweets/1/a.ndjson": `{"user": "u2", "likes": 7}
{"user": "u3", "likes": 1}
`,
	}
	for name, body := range blobs {
		path := filepath.Join(dir, "data", filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	cfg := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf(testConfig, filepath.Join(dir, "data"))), 0o644))
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	fc, err := loadConfig(setup(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"n0", "n1"}, fc.Nodes)
	require.Len(t, fc.Indices, 1)
	ic := fc.Indices[0]
	assert.Equal(t, "tweets", ic.Name)
	assert.Equal(t, 2, ic.Shards)
	assert.Equal(t, index.FieldKeyword, ic.Mapping["tweet"]["user"])
	assert.Equal(t, []string{"tweets/1/a.ndjson"}, ic.Segments[1])
	assert.Equal(t, "5s", fc.ShardTimeout.String())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTermsCmd(t *testing.T) {
	cfg := setup(t)

	t.Run("bytes", func(t *testing.T) {
		out, err := run(t, "terms", "--config", cfg, "--index", "social", "--field", "user", "--encoding", "bytes")
		require.NoError(t, err, out)
		var got termsOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, []string{"u1", "u2", "u3"}, got.Terms)
		assert.Equal(t, int64(3), got.Size)
		assert.Equal(t, 2, got.TotalShards)
		assert.Equal(t, 2, got.SuccessfulShards)
	})

	t.Run("query yaml", func(t *testing.T) {
		out, err := run(t, "terms", "-c", cfg, "-o", "yaml", "--field", "likes",
			"--query", `{"range": {"likes": {"gte": 5}}}`)
		require.NoError(t, err, out)
		var got termsOutput
		require.NoError(t, yaml.Unmarshal([]byte(out), &got))
		assert.Equal(t, "long", got.Encoding)
		assert.Equal(t, []int64{5, 7}, got.Values)
	})

	t.Run("doc score without cap", func(t *testing.T) {
		_, err := run(t, "terms", "-c", cfg, "--field", "user", "--ordering", "doc_score")
		assert.Error(t, err)
	})

	t.Run("bad encoding", func(t *testing.T) {
		_, err := run(t, "terms", "-c", cfg, "--field", "user", "--encoding", "utf8")
		assert.Error(t, err)
	})

	t.Run("field required", func(t *testing.T) {
		_, err := run(t, "terms", "-c", cfg)
		assert.Error(t, err)
	})
}

func TestCacheCmd(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "cache", "clear", "-c", cfg)
	require.NoError(t, err, out)
	var cleared []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	require.Len(t, cleared, 2)
	assert.Equal(t, "n0", cleared[0]["node_id"])

	out, err = run(t, "cache", "stats", "-c", cfg)
	require.NoError(t, err, out)
	var stats []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "n1", stats[1]["node_id"])
	assert.Contains(t, stats[0], "stats")
}

func TestRootCmd_Output(t *testing.T) {
	_, err := run(t, "cache", "stats", "-c", setup(t), "-o", "xml")
	assert.Error(t, err)
}
