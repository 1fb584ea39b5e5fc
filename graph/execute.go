package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/task"
)

// poolStopTimeout bounds the drain wait when closing an owned pool.
const poolStopTimeout = 30 * time.Second

// execution is the per-run scheduler state: one future per node, so every
// node computes at most once per Execute regardless of how many dependents
// await it.
type execution[V comparable] struct {
	graph *Graph[V]
	ctx   context.Context

	mu    sync.Mutex
	tasks map[string]*task.Task[Result[V]]
}

// Execute runs the optimization passes, then resolves and computes every
// node concurrently. Execute always completes even when nodes fail; node
// failures are inspected through NodeError or each node's own Compute. Only
// a failing optimization pass aborts the run, before any scheduling.
func (g *Graph[V]) Execute(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("run_id", uuid.NewString()[:8])
	ctx = ctxlog.WithLogger(ctx, logger)

	g.clearErrors()

	g.mu.Lock()
	passes := append([]Pass[V](nil), g.passes...)
	g.mu.Unlock()

	for _, p := range passes {
		logger.Debug("Running optimization pass.", "pass", p.Name())
		if err := p.Optimize(ctx, g); err != nil {
			logger.Error("Optimization pass failed.", "pass", p.Name(), "error", err)
			return err
		}
	}

	nodes := g.Nodes()
	logger.Debug("Scheduling nodes.", "count", len(nodes))

	exec := &execution[V]{
		graph: g,
		ctx:   ctx,
		tasks: make(map[string]*task.Task[Result[V]], len(nodes)),
	}

	tasks := make([]*task.Task[Result[V]], 0, len(nodes))
	for _, n := range nodes {
		tasks = append(tasks, exec.schedule(n))
	}
	for _, t := range tasks {
		t.Get()
	}

	g.propagateErrors()
	logger.Debug("Execution complete.")
	return nil
}

// schedule returns the future for a node's result, creating and starting it
// on first request. The resolution itself runs on a dedicated goroutine;
// only the node's compute body is dispatched through the worker pool, so
// pool workers never block awaiting other tasks.
func (x *execution[V]) schedule(n *Node[V]) *task.Task[Result[V]] {
	x.mu.Lock()
	if t, ok := x.tasks[n.name]; ok {
		x.mu.Unlock()
		return t
	}
	t := task.New[Result[V]]()
	x.tasks[n.name] = t
	x.mu.Unlock()

	go func() {
		t.Complete(x.run(n), nil)
	}()
	return t
}

// run resolves a node: await every dependency, absorb upstream failures,
// apply graph-wide fail-fast, then compute through the worker pool and feed
// the result cache.
func (x *execution[V]) run(n *Node[V]) Result[V] {
	logger := ctxlog.FromContext(x.ctx)

	for _, e := range x.graph.IncomingEdges(n) {
		dep := e.From()
		r, _ := x.schedule(dep).Get()
		if r.Failed() {
			logger.Debug("Dependency failed, skipping node.", "node", n.name, "dependency", dep.name)
			inherited := r.Err().Clone()
			inherited.AddPath(n.name)
			x.graph.recordNodeError(inherited.Source, r.Err())
			x.graph.recordNodeError(n.name, inherited)
			return Fail[V](inherited)
		}
	}

	// Graph-wide fail-fast: once any node has failed, remaining nodes adopt
	// the error recorded under the lexicographically lowest node name.
	if _, adopted := x.graph.lowestError(); adopted != nil {
		logger.Debug("Adopting existing graph error, skipping node.", "node", n.name, "source", adopted.Source)
		adopted.AddPath(n.name)
		x.graph.recordNodeError(n.name, adopted)
		return Fail[V](adopted)
	}

	level := n.CurrentPrecisionLevel()
	compute := task.New[Result[V]]()
	job := func() {
		compute.Complete(n.Compute(x.ctx, level), nil)
	}
	if err := x.graph.pool.Submit(job); err != nil {
		logger.Debug("Worker pool unavailable, computing inline.", "node", n.name, "reason", err)
		job()
	}
	r, _ := compute.Get()

	if r.Failed() {
		logger.Debug("Node computation failed.", "node", n.name, "error", r.Err())
		x.graph.recordNodeError(n.name, r.Err())
		return r
	}

	x.graph.ResultCache().Add(r.Value())
	return r
}

// propagateErrors runs the error-propagation fixpoint: every node reachable
// from a failed node inherits a copy of the failure with itself appended to
// the propagation path.
func (g *Graph[V]) propagateErrors() {
	g.mu.Lock()
	edges := append([]*Edge[V](nil), g.edges...)
	g.mu.Unlock()

	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			g.errMu.Lock()
			upstream, failed := g.errs[e.from.name]
			_, already := g.errs[e.to.name]
			if failed && !already {
				inherited := upstream.Clone()
				inherited.AddPath(e.to.name)
				g.errs[e.to.name] = inherited
				changed = true
			}
			g.errMu.Unlock()
		}
	}
}
