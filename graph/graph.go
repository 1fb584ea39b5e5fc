// Package graph implements the computation DAG: typed nodes wrapping
// precision-aware stores, directed edges with acyclicity enforced on
// insertion, a policy-driven result cache, an ordered optimization-pass
// pipeline, and a concurrent scheduler that resolves dependencies on a
// worker pool and propagates failures downstream.
package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/polyglot-support/flowgraph/cache"
	"github.com/polyglot-support/flowgraph/errors"
	"github.com/polyglot-support/flowgraph/worker"
)

// Pass is a graph-rewrite optimization executed by Execute before
// scheduling. Passes must preserve acyclicity and node/edge-set consistency
// and interact with the graph only through its public API.
type Pass[V comparable] interface {
	// Name identifies the pass in logs.
	Name() string
	// Optimize rewrites the graph in place.
	Optimize(ctx context.Context, g *Graph[V]) error
}

// Graph owns a set of uniquely named nodes and the directed edges between
// them. All structural operations are safe for concurrent use.
type Graph[V comparable] struct {
	mu     sync.Mutex
	nodes  map[string]*Node[V]
	edges  []*Edge[V]
	passes []Pass[V]
	cache  *cache.ResultCache[V]

	pool        *worker.Pool
	ownsPool    bool
	poolWorkers int

	errMu sync.Mutex
	errs  map[string]*errors.State
}

// GraphOption configures a Graph.
type GraphOption[V comparable] func(*Graph[V])

// WithCachePolicy installs the eviction policy governing the graph's result
// cache. Without it the cache is unbounded.
func WithCachePolicy[V comparable](policy cache.Policy) GraphOption[V] {
	return func(g *Graph[V]) {
		g.cache = cache.New[V](policy)
	}
}

// WithResultCache installs a pre-built result cache, e.g. one constructed
// with metrics enabled.
func WithResultCache[V comparable](c *cache.ResultCache[V]) GraphOption[V] {
	return func(g *Graph[V]) {
		if c != nil {
			g.cache = c
		}
	}
}

// WithWorkerPool shares an existing worker pool with the graph. The caller
// keeps ownership; the graph will not stop it.
func WithWorkerPool[V comparable](p *worker.Pool) GraphOption[V] {
	return func(g *Graph[V]) {
		if p != nil {
			g.pool = p
			g.ownsPool = false
		}
	}
}

// WithWorkers sizes the graph's own worker pool. Ignored when a pool is
// shared in through WithWorkerPool.
func WithWorkers[V comparable](n int) GraphOption[V] {
	return func(g *Graph[V]) {
		if n > 0 {
			g.poolWorkers = n
		}
	}
}

// New creates an empty graph. Unless a pool is shared in, the graph creates
// and owns one sized to hardware concurrency.
func New[V comparable](opts ...GraphOption[V]) *Graph[V] {
	g := &Graph[V]{
		nodes: make(map[string]*Node[V]),
		cache: cache.New[V](nil),
		errs:  make(map[string]*errors.State),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.pool == nil {
		if g.poolWorkers > 0 {
			g.pool = worker.New(worker.WithWorkers(g.poolWorkers))
		} else {
			g.pool = worker.New()
		}
		g.ownsPool = true
	}
	return g
}

// Close stops the graph's worker pool if the graph owns it, draining any
// queued work first.
func (g *Graph[V]) Close() error {
	if !g.ownsPool {
		return nil
	}
	if err := g.pool.Stop(poolStopTimeout); err != nil {
		return errors.Wrap(errors.KindResource, err)
	}
	return nil
}

// AddNode registers a node. Node names must be unique within the graph, and
// a node may be attached to only one graph at a time.
func (g *Graph[V]) AddNode(n *Node[V]) error {
	if n == nil {
		return errors.Validation("cannot add nil node")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[n.name]; exists {
		return errors.Validation("node %q already present in graph", n.name)
	}

	n.mu.Lock()
	if n.parent != nil && n.parent != g {
		n.mu.Unlock()
		return errors.Validation("node %q is attached to another graph", n.name)
	}
	n.parent = g
	n.mu.Unlock()

	g.nodes[n.name] = n
	return nil
}

// RemoveNode detaches a node: every edge with the node as an endpoint is
// removed, the node's error entry is cleared, and the parent link is reset.
// Removing a node that is not a member is a no-op.
func (g *Graph[V]) RemoveNode(n *Node[V]) {
	if n == nil {
		return
	}

	g.mu.Lock()
	member, ok := g.nodes[n.name]
	if !ok || member != n {
		g.mu.Unlock()
		return
	}

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.from != n && e.to != n {
			kept = append(kept, e)
		}
	}
	g.edges = kept
	delete(g.nodes, n.name)
	g.mu.Unlock()

	g.errMu.Lock()
	delete(g.errs, n.name)
	g.errMu.Unlock()

	n.mu.Lock()
	n.parent = nil
	n.mu.Unlock()
}

// AddEdge inserts a directed edge. Both endpoints must be members, the edge
// must not be a self-loop, and the insertion must not create a cycle; any
// violation fails with a validation error and leaves the graph unchanged.
func (g *Graph[V]) AddEdge(e *Edge[V]) error {
	if e == nil || e.from == nil || e.to == nil {
		return errors.Validation("edge endpoints must be non-nil")
	}
	if e.from == e.to {
		return errors.Validation("self-referential edge not allowed on node %q", e.from.name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if member, ok := g.nodes[e.from.name]; !ok || member != e.from {
		return errors.Validation("edge source %q is not a member of the graph", e.from.name)
	}
	if member, ok := g.nodes[e.to.name]; !ok || member != e.to {
		return errors.Validation("edge destination %q is not a member of the graph", e.to.name)
	}

	if g.reachableLocked(e.to, e.from) {
		return errors.Validation("adding edge %q -> %q would create a cycle", e.from.name, e.to.name)
	}

	g.edges = append(g.edges, e)
	return nil
}

// reachableLocked reports whether target can be reached from start by
// following outgoing edges. Caller holds g.mu.
func (g *Graph[V]) reachableLocked(start, target *Node[V]) bool {
	visited := make(map[*Node[V]]bool)
	var visit func(n *Node[V]) bool
	visit = func(n *Node[V]) bool {
		if n == target {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for _, e := range g.edges {
			if e.from == n && visit(e.to) {
				return true
			}
		}
		return false
	}
	return visit(start)
}

// Nodes returns the graph's nodes ordered by name.
func (g *Graph[V]) Nodes() []*Node[V] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodesLocked()
}

func (g *Graph[V]) nodesLocked() []*Node[V] {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make([]*Node[V], 0, len(names))
	for _, name := range names {
		nodes = append(nodes, g.nodes[name])
	}
	return nodes
}

// IncomingEdges returns the edges pointing at n, ordered by source name.
func (g *Graph[V]) IncomingEdges(n *Node[V]) []*Edge[V] {
	g.mu.Lock()
	defer g.mu.Unlock()

	var edges []*Edge[V]
	for _, e := range g.edges {
		if e.to == n {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].from.name < edges[j].from.name })
	return edges
}

// OutgoingEdges returns the edges leaving n, ordered by destination name.
func (g *Graph[V]) OutgoingEdges(n *Node[V]) []*Edge[V] {
	g.mu.Lock()
	defer g.mu.Unlock()

	var edges []*Edge[V]
	for _, e := range g.edges {
		if e.from == n {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].to.name < edges[j].to.name })
	return edges
}

// OutputNodes returns the nodes with no outgoing edges, ordered by name.
func (g *Graph[V]) OutputNodes() []*Node[V] {
	g.mu.Lock()
	defer g.mu.Unlock()

	hasOutgoing := make(map[*Node[V]]bool, len(g.nodes))
	for _, e := range g.edges {
		hasOutgoing[e.from] = true
	}

	var outputs []*Node[V]
	for _, n := range g.nodesLocked() {
		if !hasOutgoing[n] {
			outputs = append(outputs, n)
		}
	}
	return outputs
}

// SetCachePolicy replaces the result cache's eviction policy. The cache
// contents are discarded.
func (g *Graph[V]) SetCachePolicy(policy cache.Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = cache.New[V](policy)
}

// ResultCache returns the graph's result cache.
func (g *Graph[V]) ResultCache() *cache.ResultCache[V] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache
}

// AddOptimizationPass appends a pass to the pipeline. Passes run in
// insertion order at the start of every Execute.
func (g *Graph[V]) AddOptimizationPass(p Pass[V]) {
	if p == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.passes = append(g.passes, p)
}

// NodeError returns a copy of the error recorded for the named node, or nil.
func (g *Graph[V]) NodeError(name string) *errors.State {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	if e, ok := g.errs[name]; ok {
		return e.Clone()
	}
	return nil
}

// recordNodeError stores an error for a node unless one is already present.
// The first failure recorded against a node wins.
func (g *Graph[V]) recordNodeError(name string, e *errors.State) {
	if e == nil {
		return
	}
	g.errMu.Lock()
	defer g.errMu.Unlock()
	if _, ok := g.errs[name]; !ok {
		g.errs[name] = e.Clone()
	}
}

// clearErrors empties the shared error map.
func (g *Graph[V]) clearErrors() {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	g.errs = make(map[string]*errors.State)
}

// lowestError returns a copy of the recorded error whose node name sorts
// first, for deterministic graph-wide fail-fast adoption.
func (g *Graph[V]) lowestError() (string, *errors.State) {
	g.errMu.Lock()
	defer g.errMu.Unlock()

	var lowest string
	for name := range g.errs {
		if lowest == "" || name < lowest {
			lowest = name
		}
	}
	if lowest == "" {
		return "", nil
	}
	return lowest, g.errs[lowest].Clone()
}
