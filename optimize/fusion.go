package optimize

import (
	"context"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/graph"
)

// LinearChainFusion collapses maximal linear chains n1 -> n2 -> ... -> nk
// (every non-last node with exactly one outgoing edge, every non-first node
// with exactly one incoming edge) into a single fused node computing the
// chain in order. Inbound edges of the first node and outbound edges of the
// last node are rewired onto the fused node.
type LinearChainFusion[V comparable] struct {
	nodeOpts []graph.NodeOption[V]
}

// NewLinearChainFusion creates the pass. Node options configure the fused
// nodes it creates (store depth, value semantics).
func NewLinearChainFusion[V comparable](opts ...graph.NodeOption[V]) *LinearChainFusion[V] {
	return &LinearChainFusion[V]{nodeOpts: opts}
}

// Name implements graph.Pass.
func (p *LinearChainFusion[V]) Name() string {
	return "linear-chain-fusion"
}

// Optimize implements graph.Pass.
func (p *LinearChainFusion[V]) Optimize(ctx context.Context, g *graph.Graph[V]) error {
	logger := ctxlog.FromContext(ctx)

	for _, chain := range p.findChains(g) {
		if len(chain) < 2 {
			continue
		}
		logger.Debug("Fusing chain.", "length", len(chain), "head", chain[0].Name())
		if err := p.fuse(g, chain); err != nil {
			return err
		}
	}
	return nil
}

// findChains returns every maximal chain, each starting at a node no
// predecessor could extend.
func (p *LinearChainFusion[V]) findChains(g *graph.Graph[V]) [][]*graph.Node[V] {
	var chains [][]*graph.Node[V]
	inChain := make(map[*graph.Node[V]]bool)

	for _, n := range g.Nodes() {
		if inChain[n] || !p.isChainHead(g, n) {
			continue
		}

		chain := []*graph.Node[V]{n}
		inChain[n] = true
		current := n
		for {
			outgoing := g.OutgoingEdges(current)
			if len(outgoing) != 1 {
				break
			}
			next := outgoing[0].To()
			if len(g.IncomingEdges(next)) != 1 || inChain[next] {
				break
			}
			chain = append(chain, next)
			inChain[next] = true
			current = next
		}
		chains = append(chains, chain)
	}
	return chains
}

// isChainHead reports whether no predecessor could extend a chain backward
// through n.
func (p *LinearChainFusion[V]) isChainHead(g *graph.Graph[V], n *graph.Node[V]) bool {
	incoming := g.IncomingEdges(n)
	if len(incoming) != 1 {
		return true
	}
	pred := incoming[0].From()
	return len(g.OutgoingEdges(pred)) != 1
}

// fuse replaces a chain with a single fused node carrying the chain's
// boundary edges.
func (p *LinearChainFusion[V]) fuse(g *graph.Graph[V], chain []*graph.Node[V]) error {
	first := chain[0]
	last := chain[len(chain)-1]
	inbound := g.IncomingEdges(first)
	outbound := g.OutgoingEdges(last)

	fused := graph.NewFusedNode(chain, p.nodeOpts...)
	if err := g.AddNode(fused); err != nil {
		return err
	}
	for _, e := range inbound {
		if err := g.AddEdge(graph.NewEdge(e.From(), fused)); err != nil {
			return err
		}
	}
	for _, e := range outbound {
		if err := g.AddEdge(graph.NewEdge(fused, e.To())); err != nil {
			return err
		}
	}
	for _, member := range chain {
		g.RemoveNode(member)
	}
	return nil
}
