package graph

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/polyglot-support/flowgraph/errors"
	"github.com/polyglot-support/flowgraph/store"
)

// mergeInterval is the number of fresh computations between automatic
// merge-and-compress sweeps of the node's store.
const mergeInterval = 10

// ComputeFunc is the user-supplied computation for a node. It receives the
// requested precision level and returns the computed value or an error. It
// must not call back into its own node.
type ComputeFunc[V comparable] func(ctx context.Context, level int) (V, error)

// Node is a computation unit in a graph: it wraps a precision-aware value
// store, a completion-callback list, and a precision policy, and serializes
// all computation under a node-local mutex.
type Node[V comparable] struct {
	name string
	fn   ComputeFunc[V]

	mu        sync.Mutex
	store     *store.Store[V]
	callbacks []func(Result[V])
	current   int
	min       int
	max       int

	computations atomic.Int64

	// parent is a non-owning link to the graph the node is attached to,
	// used only to consult and feed the shared error map.
	parent *Graph[V]
}

// NodeOption configures a Node.
type NodeOption[V comparable] func(*nodeConfig[V])

type nodeConfig[V comparable] struct {
	maxDepth             int
	compressionThreshold float64
	ops                  store.Ops[V]
}

// WithMaxDepth sets the node's maximum precision depth (default 8).
func WithMaxDepth[V comparable](depth int) NodeOption[V] {
	return func(c *nodeConfig[V]) {
		if depth >= 0 {
			c.maxDepth = depth
		}
	}
}

// WithCompressionThreshold sets the store's compression threshold
// (default 0.001).
func WithCompressionThreshold[V comparable](threshold float64) NodeOption[V] {
	return func(c *nodeConfig[V]) {
		c.compressionThreshold = threshold
	}
}

// WithOps sets the store's value semantics. Numeric graphs should pass
// store.Numeric; the default is last-write-wins.
func WithOps[V comparable](ops store.Ops[V]) NodeOption[V] {
	return func(c *nodeConfig[V]) {
		c.ops = ops
	}
}

// NewNode creates a node with the given stable name and compute function.
// The precision range starts at [0, maxDepth].
func NewNode[V comparable](name string, fn ComputeFunc[V], opts ...NodeOption[V]) *Node[V] {
	cfg := nodeConfig[V]{
		maxDepth:             8,
		compressionThreshold: 0.001,
		ops:                  store.LastWrite[V](),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Node[V]{
		name: name,
		fn:   fn,
		store: store.New(
			store.WithMaxDepth[V](cfg.maxDepth),
			store.WithCompressionThreshold[V](cfg.compressionThreshold),
			store.WithOps(cfg.ops),
		),
		min: 0,
		max: cfg.maxDepth,
	}
}

// Name returns the node's stable name.
func (n *Node[V]) Name() string {
	return n.name
}

// CurrentPrecisionLevel returns the node's current precision level.
func (n *Node[V]) CurrentPrecisionLevel() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// MinPrecisionLevel returns the lower bound of the precision range.
func (n *Node[V]) MinPrecisionLevel() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.min
}

// MaxPrecisionLevel returns the upper bound of the precision range.
func (n *Node[V]) MaxPrecisionLevel() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.max
}

// SetPrecisionRange sets the supported precision range. It fails with a
// validation error when max exceeds the store depth or min exceeds max.
func (n *Node[V]) SetPrecisionRange(min, max int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if max > n.store.MaxDepth() {
		return errors.Validation("maximum precision level %d exceeds storage depth %d", max, n.store.MaxDepth())
	}
	if min > max {
		return errors.Validation("minimum precision level %d exceeds maximum level %d", min, max)
	}
	n.min = min
	n.max = max
	// Keep the current level inside the new range.
	if n.current < min {
		n.current = min
	}
	if n.current > max {
		n.current = max
	}
	return nil
}

// AdjustPrecision moves the current precision level to target. Targets
// outside [min, max] are ignored.
func (n *Node[V]) AdjustPrecision(target int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if target >= n.min && target <= n.max {
		n.current = target
	}
}

// MergeUpdates merges the store's pending updates and compresses redundant
// levels.
func (n *Node[V]) MergeUpdates() {
	n.store.MergeAll()
}

// AddCompletionCallback appends a callback invoked synchronously, in
// registration order, after each fresh successful computation. Callbacks
// run with the node mutex held and must not re-enter the node.
func (n *Node[V]) AddCompletionCallback(cb func(Result[V])) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, cb)
}

// ComputationCount returns the number of fresh (non-cached) successful
// computations the node has performed.
func (n *Node[V]) ComputationCount() int64 {
	return n.computations.Load()
}

// Compute evaluates the node at the given precision level. The whole body
// runs under the node mutex, so per-node computations are serialized and a
// node is never observed in a torn state. A cached value at the requested
// level short-circuits the computation. Panics in user code surface as
// computation errors.
func (n *Node[V]) Compute(ctx context.Context, level int) (res Result[V]) {
	n.mu.Lock()
	defer n.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e := errors.Computation("panic in compute: %v", r)
			e.SetSource(n.name)
			n.reportFailure(e)
			res = Fail[V](e)
		}
	}()

	if n.parent != nil {
		if e := n.parent.NodeError(n.name); e != nil {
			return Fail[V](e)
		}
	}

	if level > n.max {
		e := errors.Precision("requested precision level %d exceeds maximum supported level %d", level, n.max)
		e.SetSource(n.name)
		n.reportFailure(e)
		return Fail[V](e)
	}

	n.current = level

	if cached, ok := n.store.Get(level); ok {
		return OK(cached)
	}

	value, err := n.fn(ctx, level)
	if err != nil {
		e := errors.Wrap(errors.KindComputation, err).Clone()
		if e.Source == "" {
			e.Source = n.name
		} else {
			e.AddPath(n.name)
		}
		n.reportFailure(e)
		return Fail[V](e)
	}

	n.store.Put(value, level)

	result := OK(value)
	for _, cb := range n.callbacks {
		cb(result)
	}

	if n.computations.Add(1)%mergeInterval == 0 {
		n.store.MergeAll()
	}

	return result
}

// reportFailure copies a failure into the owning graph's shared error map.
// Caller holds the node mutex.
func (n *Node[V]) reportFailure(e *errors.State) {
	if n.parent != nil {
		n.parent.recordNodeError(n.name, e)
	}
}
