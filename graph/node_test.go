package graph

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyglot-support/flowgraph/errors"
	"github.com/polyglot-support/flowgraph/store"
)

func TestComputeCacheHit(t *testing.T) {
	var calls int64
	n := NewNode("n", func(ctx context.Context, level int) (float64, error) {
		atomic.AddInt64(&calls, 1)
		return 7, nil
	}, WithOps[float64](store.Numeric[float64]()))

	ctx := context.Background()

	first := n.Compute(ctx, 0)
	require.False(t, first.Failed())
	assert.Equal(t, 7.0, first.Value())

	second := n.Compute(ctx, 0)
	require.False(t, second.Failed())
	assert.Equal(t, 7.0, second.Value())

	// The second call is served from the store.
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, int64(1), n.ComputationCount())
}

func TestComputeLevelAboveMax(t *testing.T) {
	n := NewNode("deep", func(ctx context.Context, level int) (int, error) {
		return 1, nil
	}, WithMaxDepth[int](3))

	r := n.Compute(context.Background(), 4)
	require.True(t, r.Failed())
	assert.Equal(t, errors.KindPrecision, r.Err().Kind)
	assert.Equal(t, "deep", r.Err().Source)
}

func TestComputeSetsCurrentLevel(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (int, error) {
		return level * 10, nil
	})

	n.Compute(context.Background(), 3)
	assert.Equal(t, 3, n.CurrentPrecisionLevel())
}

func TestComputeErrorGainsSource(t *testing.T) {
	n := NewNode("failing", func(ctx context.Context, level int) (int, error) {
		return 0, errors.Computation("no data")
	})

	r := n.Compute(context.Background(), 0)
	require.True(t, r.Failed())
	assert.Equal(t, "failing", r.Err().Source)
	assert.Empty(t, r.Err().Path)
}

func TestComputeErrorWithForeignSourceGainsPath(t *testing.T) {
	inner := errors.Computation("upstream broke")
	inner.SetSource("origin")

	n := NewNode("consumer", func(ctx context.Context, level int) (int, error) {
		return 0, inner
	})

	r := n.Compute(context.Background(), 0)
	require.True(t, r.Failed())
	assert.Equal(t, "origin", r.Err().Source)
	assert.Equal(t, []string{"consumer"}, r.Err().Path)

	// The original error is not mutated.
	assert.Empty(t, inner.Path)
}

func TestComputePanicBecomesComputationError(t *testing.T) {
	n := NewNode("panicky", func(ctx context.Context, level int) (int, error) {
		panic("array index out of range")
	})

	r := n.Compute(context.Background(), 0)
	require.True(t, r.Failed())
	assert.Equal(t, errors.KindComputation, r.Err().Kind)
	assert.Equal(t, "panicky", r.Err().Source)
	assert.Contains(t, r.Err().Message, "array index out of range")

	// The node stays usable after a panic.
	assert.Equal(t, 0, n.Compute(context.Background(), 0).Value())
}

func TestSetPrecisionRange(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (int, error) {
		return 0, nil
	}, WithMaxDepth[int](4))

	require.NoError(t, n.SetPrecisionRange(2, 4))
	assert.Equal(t, 2, n.MinPrecisionLevel())
	assert.Equal(t, 4, n.MaxPrecisionLevel())
	// The current level snaps to the nearest legal value.
	assert.Equal(t, 2, n.CurrentPrecisionLevel())

	t.Run("max beyond store depth", func(t *testing.T) {
		err := n.SetPrecisionRange(0, 5)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("min above max", func(t *testing.T) {
		err := n.SetPrecisionRange(3, 2)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestAdjustPrecisionClamp(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (int, error) {
		return 0, nil
	}, WithMaxDepth[int](4))
	require.NoError(t, n.SetPrecisionRange(2, 4))

	n.AdjustPrecision(3)
	assert.Equal(t, 3, n.CurrentPrecisionLevel())

	// Targets outside [min, max] are no-ops.
	n.AdjustPrecision(1)
	assert.Equal(t, 3, n.CurrentPrecisionLevel())
	n.AdjustPrecision(5)
	assert.Equal(t, 3, n.CurrentPrecisionLevel())
}

func TestCompletionCallbackOrder(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (int, error) {
		return 42, nil
	})

	var order []string
	n.AddCompletionCallback(func(r Result[int]) {
		order = append(order, "first")
		assert.Equal(t, 42, r.Value())
	})
	n.AddCompletionCallback(func(r Result[int]) {
		order = append(order, "second")
	})

	n.Compute(context.Background(), 0)
	assert.Equal(t, []string{"first", "second"}, order)

	// A cached hit does not re-fire callbacks.
	n.Compute(context.Background(), 0)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPeriodicMerge(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (float64, error) {
		return float64(level), nil
	}, WithMaxDepth[float64](20), WithOps[float64](store.Numeric[float64]()))

	// Ten fresh computations at distinct levels trigger the periodic
	// merge-and-compress sweep without error. Levels descend so that
	// read-through from coarser levels cannot serve the request.
	for level := 19; level >= 10; level-- {
		r := n.Compute(context.Background(), level)
		require.False(t, r.Failed())
	}
	assert.Equal(t, int64(10), n.ComputationCount())
}

func TestMergeUpdates(t *testing.T) {
	n := NewNode("n", func(ctx context.Context, level int) (float64, error) {
		return 1.5, nil
	}, WithOps[float64](store.Numeric[float64]()))

	n.Compute(context.Background(), 2)
	n.MergeUpdates()

	r := n.Compute(context.Background(), 2)
	require.False(t, r.Failed())
	assert.InDelta(t, 1.5, r.Value(), 1e-9)
}
