package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SentiOne/siren-join/index"
	"github.com/SentiOne/siren-join/internal/shard"
	"github.com/SentiOne/siren-join/resource"
	"github.com/SentiOne/siren-join/termset"
)

type respondFunc func(ctx context.Context, target index.ShardID) (*ShardResponse, error)

type fakeTransport struct {
	respond respondFunc
}

func (f *fakeTransport) ExecuteShard(ctx context.Context, target index.ShardID, _ *shard.Request) (*ShardResponse, error) {
	return f.respond(ctx, target)
}

func targets(n int) []index.ShardID {
	out := make([]index.ShardID, n)
	for i := range out {
		out[i] = index.ShardID{Index: "idx", Shard: i}
	}
	return out
}

func longSet(t *testing.T, budget *resource.Controller, vs ...int64) *termset.TermSet {
	t.Helper()
	s, err := termset.New(termset.Long, 0, budget)
	require.NoError(t, err)
	for _, v := range vs {
		_, err := s.Insert(v)
		require.NoError(t, err)
	}
	return s
}

func decode(t *testing.T, res *Result) []int64 {
	t.Helper()
	s, err := termset.Decode(res.Encoded, nil)
	require.NoError(t, err)
	defer s.Release()
	return s.Values()
}

func newCoordinator(t *testing.T, respond respondFunc, opts Options) *Coordinator {
	t.Helper()
	pool := NewWorkerPool(4)
	t.Cleanup(pool.Close)
	return New(pool, &fakeTransport{respond: respond}, opts)
}

func TestExecute_DeterministicMergeOrder(t *testing.T) {
	for _, slow := range []int{0, 1} {
		t.Run(fmt.Sprintf("slow shard %d", slow), func(t *testing.T) {
			budget := resource.NewController(resource.Config{})
			data := [][]int64{{1, 2}, {2, 3}}
			c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
				if target.Shard == slow {
					time.Sleep(30 * time.Millisecond)
				}
				return &ShardResponse{Target: target, Terms: longSet(t, budget, data[target.Shard]...)}, nil
			}, Options{Budget: budget})

			var folded []int
			c.onFold = func(ordinal int, target index.ShardID) {
				assert.Equal(t, ordinal, target.Shard)
				folded = append(folded, ordinal)
			}

			res, err := c.Execute(context.Background(), targets(2), &shard.Request{Encoding: termset.Long, NowMillis: time.Now().UnixMilli()})
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2, 3}, decode(t, res))
			assert.Equal(t, []int{0, 1}, folded)
			assert.Equal(t, int64(3), res.Size)
			assert.Equal(t, 2, res.Successful)
			assert.GreaterOrEqual(t, res.TookMillis, int64(0))
			assert.Zero(t, budget.MemoryUsage())
		})
	}
}

func TestExecute_PartialFailure(t *testing.T) {
	budget := resource.NewController(resource.Config{})
	boom := errors.New("disk on fire")
	data := [][]int64{{1, 2}, {100}, {2, 5}}
	c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
		if target.Shard == 1 {
			return nil, &shard.ExecutionError{Target: target, Cause: boom}
		}
		return &ShardResponse{Target: target, Terms: longSet(t, budget, data[target.Shard]...)}, nil
	}, Options{Budget: budget})

	res, err := c.Execute(context.Background(), targets(3), &shard.Request{Encoding: termset.Long})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 5}, decode(t, res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, index.ShardID{Index: "idx", Shard: 1}, res.Failures[0].Target)
	assert.ErrorIs(t, res.Failures[0].Err, boom)
	assert.Zero(t, budget.MemoryUsage())
}

func TestExecute_AbsentShards(t *testing.T) {
	budget := resource.NewController(resource.Config{})
	var late sync.WaitGroup
	late.Add(1)
	c := newCoordinator(t, func(ctx context.Context, target index.ShardID) (*ShardResponse, error) {
		switch target.Shard {
		case 1:
			return nil, fmt.Errorf("%w: %s", ErrShardNotAvailable, target)
		case 2:
			<-ctx.Done()
			return nil, &shard.ExecutionError{Target: target, Cause: ctx.Err()}
		case 3:
			// Ignores cancellation and answers after the wait was abandoned.
			defer late.Done()
			time.Sleep(150 * time.Millisecond)
			return &ShardResponse{Target: target, Terms: longSet(t, budget, 42)}, nil
		}
		return &ShardResponse{Target: target, Terms: longSet(t, budget, 7)}, nil
	}, Options{Budget: budget, Timeout: 50 * time.Millisecond})

	res, err := c.Execute(context.Background(), targets(4), &shard.Request{Encoding: termset.Long})
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, decode(t, res))
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Successful)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Failures)

	late.Wait()
	assert.Eventually(t, func() bool { return budget.MemoryUsage() == 0 }, time.Second, 5*time.Millisecond,
		"late responses are released")
}

func TestExecute_MergeBudgetExhausted(t *testing.T) {
	budget := resource.NewController(resource.Config{MemoryLimitBytes: 10_000})
	c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
		vs := make([]int64, 100)
		for i := range vs {
			vs[i] = int64(target.Shard*1000 + i)
		}
		return &ShardResponse{Target: target, Terms: longSet(t, budget, vs...)}, nil
	}, Options{Budget: budget})

	_, err := c.Execute(context.Background(), targets(3), &shard.Request{Encoding: termset.Long})
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Zero(t, budget.MemoryUsage())
}

func TestExecute_MergeFailureReleasesEverything(t *testing.T) {
	budget := resource.NewController(resource.Config{})
	c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
		if target.Shard == 1 {
			s, err := termset.New(termset.Bytes, 0, budget)
			require.NoError(t, err)
			return &ShardResponse{Target: target, Terms: s}, nil
		}
		return &ShardResponse{Target: target, Terms: longSet(t, budget, int64(target.Shard))}, nil
	}, Options{Budget: budget})

	var folded []int
	c.onFold = func(ordinal int, _ index.ShardID) { folded = append(folded, ordinal) }

	_, err := c.Execute(context.Background(), targets(3), &shard.Request{Encoding: termset.Long})
	assert.ErrorIs(t, err, termset.ErrEncodingMismatch)
	assert.Contains(t, err.Error(), "[idx][1]")
	assert.Equal(t, []int{0, 1}, folded)
	assert.Zero(t, budget.MemoryUsage())
}

func TestExecute_Canceled(t *testing.T) {
	budget := resource.NewController(resource.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
		if target.Shard == 1 {
			cancel()
		}
		return &ShardResponse{Target: target, Terms: longSet(t, budget, 1)}, nil
	}, Options{Budget: budget})

	_, err := c.Execute(ctx, targets(2), &shard.Request{Encoding: termset.Long})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, func() bool { return budget.MemoryUsage() == 0 }, time.Second, 5*time.Millisecond)
}

func TestExecute_BloomKeepsGeometry(t *testing.T) {
	budget := resource.NewController(resource.Config{})
	c := newCoordinator(t, func(_ context.Context, target index.ShardID) (*ShardResponse, error) {
		s, err := termset.New(termset.Bloom, 0, budget)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			_, err := s.Insert(int64(target.Shard*100 + i))
			require.NoError(t, err)
		}
		return &ShardResponse{Target: target, Terms: s}, nil
	}, Options{Budget: budget})

	res, err := c.Execute(context.Background(), targets(3), &shard.Request{Encoding: termset.Bloom})
	require.NoError(t, err)
	set, err := termset.Decode(res.Encoded, nil)
	require.NoError(t, err)
	defer set.Release()
	for sh := 0; sh < 3; sh++ {
		for i := 0; i < 50; i++ {
			assert.True(t, set.Contains(int64(sh*100+i)))
		}
	}
	assert.InDelta(t, 150, res.Size, 5)
	assert.Zero(t, budget.MemoryUsage())
}

func TestExecute_NoTargets(t *testing.T) {
	c := newCoordinator(t, nil, Options{})
	res, err := c.Execute(context.Background(), nil, &shard.Request{Encoding: termset.Integer})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	assert.Zero(t, res.Size)
	assert.Equal(t, termset.Integer, res.Encoding)
	assert.Empty(t, decode(t, res))
}
