package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyglot-support/flowgraph/cache"
	"github.com/polyglot-support/flowgraph/errors"
	"github.com/polyglot-support/flowgraph/store"
	"github.com/polyglot-support/flowgraph/worker"
)

func TestExecuteComputesAllNodes(t *testing.T) {
	g := New[float64]()
	defer g.Close()

	var calls int64
	counted := func(value float64) ComputeFunc[float64] {
		return func(ctx context.Context, level int) (float64, error) {
			atomic.AddInt64(&calls, 1)
			return value, nil
		}
	}

	a := NewNode("a", counted(1), WithOps[float64](store.Numeric[float64]()))
	b := NewNode("b", counted(2), WithOps[float64](store.Numeric[float64]()))
	c := NewNode("c", counted(3), WithOps[float64](store.Numeric[float64]()))
	for _, n := range []*Node[float64]{a, b, c} {
		require.NoError(t, g.AddNode(n))
	}
	require.NoError(t, g.AddEdge(NewEdge(a, b)))
	require.NoError(t, g.AddEdge(NewEdge(b, c)))

	require.NoError(t, g.Execute(context.Background()))

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
	assert.Nil(t, g.NodeError("a"))
	assert.Nil(t, g.NodeError("b"))
	assert.Nil(t, g.NodeError("c"))
}

func TestExecuteComputesEachNodeOnce(t *testing.T) {
	g := New[float64]()
	defer g.Close()

	counts := make(map[string]*int64)
	mk := func(name string, value float64) *Node[float64] {
		var c int64
		counts[name] = &c
		return NewNode(name, func(ctx context.Context, level int) (float64, error) {
			atomic.AddInt64(&c, 1)
			return value, nil
		}, WithOps[float64](store.Numeric[float64]()))
	}

	// Diamond: both l and r await s; s must compute exactly once.
	s := mk("s", 1)
	l := mk("l", 2)
	r := mk("r", 3)
	sink := mk("t", 4)
	for _, n := range []*Node[float64]{s, l, r, sink} {
		require.NoError(t, g.AddNode(n))
	}
	require.NoError(t, g.AddEdge(NewEdge(s, l)))
	require.NoError(t, g.AddEdge(NewEdge(s, r)))
	require.NoError(t, g.AddEdge(NewEdge(l, sink)))
	require.NoError(t, g.AddEdge(NewEdge(r, sink)))

	require.NoError(t, g.Execute(context.Background()))

	for name, c := range counts {
		assert.Equal(t, int64(1), atomic.LoadInt64(c), "node %s", name)
	}
}

func TestExecuteDependencyOrdering(t *testing.T) {
	g := New[int]()
	defer g.Close()

	var mu sync.Mutex
	var order []string
	mk := func(name string) *Node[int] {
		return NewNode(name, func(ctx context.Context, level int) (int, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return 0, nil
		})
	}

	a := mk("a")
	b := mk("b")
	require.NoError(t, g.AddNode(a))
	require.NoError(t, g.AddNode(b))
	require.NoError(t, g.AddEdge(NewEdge(a, b)))

	require.NoError(t, g.Execute(context.Background()))

	require.Equal(t, []string{"a", "b"}, order)
}

func TestErrorPropagationThroughDiamond(t *testing.T) {
	g := New[float64]()
	defer g.Close()

	s := NewNode("s", func(ctx context.Context, level int) (float64, error) {
		return 0, errors.Precision("p")
	}, WithOps[float64](store.Numeric[float64]()))
	l := constNode("l", 1)
	r := constNode("r", 2)
	sink := constNode("t", 3)

	for _, n := range []*Node[float64]{s, l, r, sink} {
		require.NoError(t, g.AddNode(n))
	}
	require.NoError(t, g.AddEdge(NewEdge(s, l)))
	require.NoError(t, g.AddEdge(NewEdge(s, r)))
	require.NoError(t, g.AddEdge(NewEdge(l, sink)))
	require.NoError(t, g.AddEdge(NewEdge(r, sink)))

	require.NoError(t, g.Execute(context.Background()))

	srcErr := g.NodeError("s")
	require.NotNil(t, srcErr)
	assert.Equal(t, "s", srcErr.Source)
	assert.Equal(t, errors.KindPrecision, srcErr.Kind)

	sinkErr := g.NodeError("t")
	require.NotNil(t, sinkErr)
	assert.Equal(t, "s", sinkErr.Source)
	require.NotEmpty(t, sinkErr.Path)
	assert.Contains(t, []string{"l", "r"}, sinkErr.Path[0])
	assert.Equal(t, "t", sinkErr.Path[len(sinkErr.Path)-1])

	// Both intermediates carry the failure too.
	require.NotNil(t, g.NodeError("l"))
	require.NotNil(t, g.NodeError("r"))
}

func TestFailedDependencySkipsCompute(t *testing.T) {
	g := New[int]()
	defer g.Close()

	var downstreamRan int64
	bad := NewNode("bad", func(ctx context.Context, level int) (int, error) {
		return 0, errors.Computation("boom")
	})
	down := NewNode("down", func(ctx context.Context, level int) (int, error) {
		atomic.AddInt64(&downstreamRan, 1)
		return 1, nil
	})
	require.NoError(t, g.AddNode(bad))
	require.NoError(t, g.AddNode(down))
	require.NoError(t, g.AddEdge(NewEdge(bad, down)))

	require.NoError(t, g.Execute(context.Background()))

	assert.Equal(t, int64(0), atomic.LoadInt64(&downstreamRan))
	require.NotNil(t, g.NodeError("down"))
	assert.Equal(t, "bad", g.NodeError("down").Source)
}

func TestExecuteClearsPreviousErrors(t *testing.T) {
	g := New[int]()
	defer g.Close()

	var fail atomic.Bool
	fail.Store(true)
	n := NewNode("flaky", func(ctx context.Context, level int) (int, error) {
		if fail.Load() {
			return 0, errors.Computation("transient")
		}
		return 5, nil
	})
	require.NoError(t, g.AddNode(n))

	require.NoError(t, g.Execute(context.Background()))
	require.NotNil(t, g.NodeError("flaky"))

	fail.Store(false)
	require.NoError(t, g.Execute(context.Background()))
	assert.Nil(t, g.NodeError("flaky"))
}

func TestExecuteFeedsResultCache(t *testing.T) {
	g := New[float64](WithCachePolicy[float64](cache.NewLRU(8)))
	defer g.Close()

	a := constNode("a", 1.5)
	b := constNode("b", 2.5)
	require.NoError(t, g.AddNode(a))
	require.NoError(t, g.AddNode(b))

	require.NoError(t, g.Execute(context.Background()))

	assert.True(t, g.ResultCache().Contains(1.5))
	assert.True(t, g.ResultCache().Contains(2.5))
}

func TestExecuteWithSharedPool(t *testing.T) {
	pool := worker.New(worker.WithWorkers(2))
	defer pool.Stop(time.Second)

	g := New[int](WithWorkerPool[int](pool))
	require.NoError(t, g.AddNode(NewNode("n", func(ctx context.Context, level int) (int, error) {
		return 9, nil
	})))

	require.NoError(t, g.Execute(context.Background()))
	assert.Nil(t, g.NodeError("n"))

	// Close must not stop a pool the graph does not own.
	require.NoError(t, g.Close())
	assert.NoError(t, pool.Submit(func() {}))
}

func TestExecuteWithStoppedPoolRunsInline(t *testing.T) {
	pool := worker.New(worker.WithWorkers(1))
	require.NoError(t, pool.Stop(time.Second))

	g := New[int](WithWorkerPool[int](pool))
	require.NoError(t, g.AddNode(NewNode("n", func(ctx context.Context, level int) (int, error) {
		return 3, nil
	})))

	// The scheduler falls back to inline computation when the pool rejects
	// submissions.
	require.NoError(t, g.Execute(context.Background()))
	assert.Nil(t, g.NodeError("n"))
}

func TestSiblingsRunConcurrently(t *testing.T) {
	pool := worker.New(worker.WithWorkers(2))
	defer pool.Stop(time.Second)
	g := New[int](WithWorkerPool[int](pool))

	// Two independent chains; each blocks until the other has started,
	// which only resolves if they run concurrently.
	gate := make(chan struct{}, 2)
	mk := func(name string) *Node[int] {
		return NewNode(name, func(ctx context.Context, level int) (int, error) {
			gate <- struct{}{}
			deadline := time.Now().Add(2 * time.Second)
			for len(gate) < 2 {
				if time.Now().After(deadline) {
					return 0, errors.Timeout("peer never started")
				}
				time.Sleep(time.Millisecond)
			}
			return 1, nil
		})
	}
	require.NoError(t, g.AddNode(mk("left")))
	require.NoError(t, g.AddNode(mk("right")))

	require.NoError(t, g.Execute(context.Background()))
	assert.Nil(t, g.NodeError("left"))
	assert.Nil(t, g.NodeError("right"))
}

func TestFusedNodeComputesChain(t *testing.T) {
	var calls []string
	mk := func(name string, value float64) *Node[float64] {
		return NewNode(name, func(ctx context.Context, level int) (float64, error) {
			calls = append(calls, name)
			return value, nil
		}, WithOps[float64](store.Numeric[float64]()))
	}

	a := mk("a", 1)
	b := mk("b", 2)
	c := mk("c", 3)

	fused := NewFusedNode([]*Node[float64]{a, b, c})
	assert.True(t, IsFusedNode(fused))

	r := fused.Compute(context.Background(), 0)
	require.False(t, r.Failed())
	assert.Equal(t, 3.0, r.Value())
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestFusedNodePropagatesInnerFailure(t *testing.T) {
	good := NewNode("good", func(ctx context.Context, level int) (int, error) {
		return 1, nil
	})
	bad := NewNode("bad", func(ctx context.Context, level int) (int, error) {
		return 0, errors.Computation("inner failure")
	})

	fused := NewFusedNode([]*Node[int]{good, bad})
	r := fused.Compute(context.Background(), 0)
	require.True(t, r.Failed())
	assert.Equal(t, "bad", r.Err().Source)
	assert.Equal(t, []string{fused.Name()}, r.Err().Path)
}
