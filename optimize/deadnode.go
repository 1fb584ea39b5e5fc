package optimize

import (
	"context"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/graph"
)

// DeadNodeElimination removes every node that cannot reach an output node
// by reverse edge traversal. Reachability is anchored at output nodes that
// participate in at least one edge, so fully isolated nodes are dead; a
// graph with no edges at all is left untouched. The pass is idempotent.
type DeadNodeElimination[V comparable] struct{}

// NewDeadNodeElimination creates the pass.
func NewDeadNodeElimination[V comparable]() *DeadNodeElimination[V] {
	return &DeadNodeElimination[V]{}
}

// Name implements graph.Pass.
func (p *DeadNodeElimination[V]) Name() string {
	return "dead-node-elimination"
}

// Optimize implements graph.Pass.
func (p *DeadNodeElimination[V]) Optimize(ctx context.Context, g *graph.Graph[V]) error {
	reachable := make(map[*graph.Node[V]]bool)

	var mark func(n *graph.Node[V])
	mark = func(n *graph.Node[V]) {
		if reachable[n] {
			return
		}
		reachable[n] = true
		for _, e := range g.IncomingEdges(n) {
			mark(e.From())
		}
	}

	anchored := false
	for _, out := range g.OutputNodes() {
		if len(g.IncomingEdges(out)) == 0 {
			continue
		}
		anchored = true
		mark(out)
	}
	if !anchored {
		return nil
	}

	logger := ctxlog.FromContext(ctx)
	for _, n := range g.Nodes() {
		if !reachable[n] {
			logger.Debug("Removing dead node.", "node", n.Name())
			g.RemoveNode(n)
		}
	}
	return nil
}
