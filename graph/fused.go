package graph

import (
	"context"
	"strings"
)

// FusedNodePrefix starts the name of every node produced by chain fusion.
const FusedNodePrefix = "fused("

// NewFusedNode creates a node that computes a linear chain of nodes in
// order at the requested precision level and returns the last node's
// result. The chain nodes keep their own stores, so previously cached
// values still short-circuit inside the chain.
func NewFusedNode[V comparable](chain []*Node[V], opts ...NodeOption[V]) *Node[V] {
	names := make([]string, len(chain))
	for i, n := range chain {
		names[i] = n.Name()
	}
	name := FusedNodePrefix + strings.Join(names, "+") + ")"

	members := append([]*Node[V](nil), chain...)
	fn := func(ctx context.Context, level int) (V, error) {
		var last V
		for _, n := range members {
			r := n.Compute(ctx, level)
			if r.Failed() {
				var zero V
				return zero, r.Err()
			}
			last = r.Value()
		}
		return last, nil
	}

	return NewNode(name, fn, opts...)
}

// IsFusedNode reports whether a node was produced by chain fusion.
func IsFusedNode[V comparable](n *Node[V]) bool {
	return strings.HasPrefix(n.Name(), FusedNodePrefix)
}
