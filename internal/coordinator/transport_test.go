package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

var mapping = index.Mapping{"doc": {"tag": index.FieldKeyword, "n": index.FieldLong}}

// newCluster spreads n documents round robin over shards, flushing a
// segment every ten documents. Each value of n occurs twice.
func newCluster(t *testing.T, numShards, n int) []*index.Shard {
	t.Helper()
	shards := make([]*index.Shard, numShards)
	writers := make([]*index.Writer, numShards)
	for i := range shards {
		shards[i] = index.NewShard(index.ShardID{Index: "idx", Shard: i}, mapping)
		writers[i] = index.NewWriter(mapping)
	}
	for v := 0; v < n; v++ {
		w := writers[v%numShards]
		_, err := w.Add("doc", map[string][]index.Value{"n": {index.Int(int64(v % (n / 2)))}})
		require.NoError(t, err)
		if w.Len() == 10 {
			shards[v%numShards].AddSegment(w.Flush())
		}
	}
	for i, w := range writers {
		shards[i].AddSegment(w.Flush())
	}
	return shards
}

func TestLocalTransport_Union(t *testing.T) {
	for _, serialize := range []bool{false, true} {
		budget := resource.NewController(resource.Config{})
		shards := newCluster(t, 3, 200)
		tr := NewLocalTransport(&shard.Executor{Budget: budget}, LocalTransportOptions{Serialize: serialize, Budget: budget})
		var ids []index.ShardID
		for _, sh := range shards {
			tr.Register(sh)
			ids = append(ids, sh.ID())
		}
		pool := NewWorkerPool(2)
		c := New(pool, tr, Options{Budget: budget})

		res, err := c.Execute(context.Background(), ids, &shard.Request{Field: "n", Encoding: termset.Long})
		pool.Close()
		require.NoError(t, err)

		want := make([]int64, 100)
		for i := range want {
			want[i] = int64(i)
		}
		assert.Equal(t, want, decode(t, res), "serialize=%v", serialize)
		assert.Equal(t, 3, res.Successful)
		assert.Zero(t, budget.MemoryUsage())
		for _, sh := range shards {
			assert.Zero(t, sh.OpenSearchers())
		}
	}
}

func TestLocalTransport_Unavailable(t *testing.T) {
	shards := newCluster(t, 2, 20)
	tr := NewLocalTransport(&shard.Executor{}, LocalTransportOptions{})
	tr.Register(shards[0])
	tr.Register(shards[1])
	shards[1].SetActive(false)

	_, err := tr.ExecuteShard(context.Background(), shards[1].ID(), &shard.Request{Field: "n", Encoding: termset.Long})
	assert.ErrorIs(t, err, ErrShardNotAvailable)

	tr.Unregister(shards[0].ID())
	_, err = tr.ExecuteShard(context.Background(), shards[0].ID(), &shard.Request{Field: "n", Encoding: termset.Long})
	assert.ErrorIs(t, err, ErrShardNotAvailable)
	_, ok := tr.Shard(shards[0].ID())
	assert.False(t, ok)
}

func TestLocalTransport_ShardFailure(t *testing.T) {
	shards := newCluster(t, 2, 20)
	tr := NewLocalTransport(&shard.Executor{}, LocalTransportOptions{})
	tr.Register(shards[0])

	_, err := tr.ExecuteShard(context.Background(), shards[0].ID(), &shard.Request{Field: "missing", Encoding: termset.Long})
	var ee *shard.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, shards[0].ID(), ee.Target)
}
