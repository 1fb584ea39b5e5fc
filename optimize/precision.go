package optimize

import (
	"context"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/graph"
)

// ErrorEstimator reports the estimated numerical error a consumer observes
// on a dependency's values. The propagation pass compares it against the
// error threshold to decide precision bumps and drops.
type ErrorEstimator[V comparable] func(dep, consumer *graph.Node[V]) float64

// PrecisionPropagation walks backward from the output nodes, seeding each
// with its current precision, and propagates the maximum precision
// requirement to every dependency. A dependency whose estimated error
// exceeds the threshold is bumped one level (capped at its max); one whose
// estimated error falls below half the threshold drops one level (floored
// at its min).
type PrecisionPropagation[V comparable] struct {
	errorThreshold float64
	estimate       ErrorEstimator[V]
}

// PrecisionOption configures a PrecisionPropagation pass.
type PrecisionOption[V comparable] func(*PrecisionPropagation[V])

// WithErrorThreshold sets the estimated-error threshold (default 0.001).
func WithErrorThreshold[V comparable](threshold float64) PrecisionOption[V] {
	return func(p *PrecisionPropagation[V]) {
		if threshold > 0 {
			p.errorThreshold = threshold
		}
	}
}

// WithErrorEstimator sets the per-edge error estimator. The default returns
// half the threshold, keeping every requirement unchanged.
func WithErrorEstimator[V comparable](fn ErrorEstimator[V]) PrecisionOption[V] {
	return func(p *PrecisionPropagation[V]) {
		if fn != nil {
			p.estimate = fn
		}
	}
}

// NewPrecisionPropagation creates the pass.
func NewPrecisionPropagation[V comparable](opts ...PrecisionOption[V]) *PrecisionPropagation[V] {
	p := &PrecisionPropagation[V]{errorThreshold: 0.001}
	p.estimate = func(dep, consumer *graph.Node[V]) float64 {
		return p.errorThreshold / 2
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements graph.Pass.
func (p *PrecisionPropagation[V]) Name() string {
	return "precision-propagation"
}

// Optimize implements graph.Pass.
func (p *PrecisionPropagation[V]) Optimize(ctx context.Context, g *graph.Graph[V]) error {
	requirements := make(map[*graph.Node[V]]int)

	queue := g.OutputNodes()
	for _, out := range queue {
		requirements[out] = out.CurrentPrecisionLevel()
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		currentReq := requirements[current]

		for _, e := range g.IncomingEdges(current) {
			dep := e.From()
			required := p.requiredPrecision(currentReq, dep, current)
			if old, seen := requirements[dep]; !seen || required > old {
				requirements[dep] = required
				queue = append(queue, dep)
			}
		}
	}

	logger := ctxlog.FromContext(ctx)
	for node, required := range requirements {
		target := clamp(required, node.MinPrecisionLevel(), node.MaxPrecisionLevel())
		if target != node.CurrentPrecisionLevel() {
			logger.Debug("Adjusting node precision.", "node", node.Name(), "level", target)
		}
		node.AdjustPrecision(target)
	}
	return nil
}

// requiredPrecision computes the precision a consumer demands from a
// dependency.
func (p *PrecisionPropagation[V]) requiredPrecision(base int, dep, consumer *graph.Node[V]) int {
	required := base
	estimated := p.estimate(dep, consumer)
	switch {
	case estimated > p.errorThreshold:
		required++
		if max := dep.MaxPrecisionLevel(); required > max {
			required = max
		}
	case estimated < p.errorThreshold/2:
		if required > 0 {
			required--
		}
		if min := dep.MinPrecisionLevel(); required < min {
			required = min
		}
	}
	return required
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
