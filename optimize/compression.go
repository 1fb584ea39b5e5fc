package optimize

import (
	"context"
	"math"
	"reflect"
	"sort"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/graph"
)

// defaultNodeBudget is the assumed memory budget per node, matching the
// scale the estimates are compared against.
const defaultNodeBudget = 1 << 20

// maxShift bounds the precision-level shift in the memory estimate so the
// computation saturates instead of overflowing.
const maxShift = 62

// MemoryAwareCompression trades precision for memory. When the estimated
// aggregate usage exceeds the memory threshold, nodes whose activity falls
// below the activity threshold relative to the mean drop one precision
// level and merge their stores. With headroom remaining, high-activity
// fan-out hubs gain one level. Finally, the downstream paths of every fork
// point are balanced per shared sink to the group's clamped average
// precision.
type MemoryAwareCompression[V comparable] struct {
	memoryThreshold   float64
	activityThreshold float64
	nodeBudget        int64
}

// CompressionOption configures a MemoryAwareCompression pass.
type CompressionOption[V comparable] func(*MemoryAwareCompression[V])

// WithMemoryThreshold sets the usage ratio above which compression starts
// (default 0.8).
func WithMemoryThreshold[V comparable](threshold float64) CompressionOption[V] {
	return func(p *MemoryAwareCompression[V]) {
		if threshold >= 0 {
			p.memoryThreshold = threshold
		}
	}
}

// WithActivityThreshold sets the fraction of mean activity below which a
// node is considered inactive (default 0.2).
func WithActivityThreshold[V comparable](threshold float64) CompressionOption[V] {
	return func(p *MemoryAwareCompression[V]) {
		if threshold >= 0 {
			p.activityThreshold = threshold
		}
	}
}

// WithNodeBudget sets the assumed per-node memory budget in bytes
// (default 1 MiB).
func WithNodeBudget[V comparable](budget int64) CompressionOption[V] {
	return func(p *MemoryAwareCompression[V]) {
		if budget > 0 {
			p.nodeBudget = budget
		}
	}
}

// NewMemoryAwareCompression creates the pass.
func NewMemoryAwareCompression[V comparable](opts ...CompressionOption[V]) *MemoryAwareCompression[V] {
	p := &MemoryAwareCompression[V]{
		memoryThreshold:   0.8,
		activityThreshold: 0.2,
		nodeBudget:        defaultNodeBudget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements graph.Pass.
func (p *MemoryAwareCompression[V]) Name() string {
	return "memory-aware-compression"
}

// Optimize implements graph.Pass.
func (p *MemoryAwareCompression[V]) Optimize(ctx context.Context, g *graph.Graph[V]) error {
	nodes := g.Nodes()
	if len(nodes) < 2 {
		return nil
	}

	totalBudget := float64(p.nodeBudget) * float64(len(nodes))
	var used float64
	activity := make(map[*graph.Node[V]]float64, len(nodes))
	var totalActivity float64
	for _, n := range nodes {
		used += float64(estimateMemory[V](n.CurrentPrecisionLevel()))
		rate := float64(n.ComputationCount())
		activity[n] = rate
		totalActivity += rate
	}
	usageRatio := used / totalBudget
	meanActivity := totalActivity / float64(len(nodes))

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Memory analysis.", "usage_ratio", usageRatio, "mean_activity", meanActivity)

	if usageRatio > p.memoryThreshold {
		p.compressInactive(ctx, nodes, activity, meanActivity)
	}

	if usageRatio < p.memoryThreshold {
		headroom := totalBudget*p.memoryThreshold - used
		p.expandHubs(ctx, g, nodes, activity, meanActivity, headroom)
	}

	p.balanceForkPaths(g, nodes)
	return nil
}

// compressInactive drops one precision level on every node whose activity
// is below the threshold fraction of the mean.
func (p *MemoryAwareCompression[V]) compressInactive(
	ctx context.Context,
	nodes []*graph.Node[V],
	activity map[*graph.Node[V]]float64,
	meanActivity float64,
) {
	logger := ctxlog.FromContext(ctx)
	for _, n := range nodes {
		if activity[n] >= p.activityThreshold*meanActivity {
			continue
		}
		current := n.CurrentPrecisionLevel()
		if current > n.MinPrecisionLevel() {
			logger.Debug("Compressing inactive node.", "node", n.Name(), "level", current-1)
			n.AdjustPrecision(current - 1)
			n.MergeUpdates()
		}
	}
}

// expandHubs raises precision on high-activity fan-out nodes while the
// estimated memory delta fits in the remaining headroom. Hubs expand most
// active first; ties break by name.
func (p *MemoryAwareCompression[V]) expandHubs(
	ctx context.Context,
	g *graph.Graph[V],
	nodes []*graph.Node[V],
	activity map[*graph.Node[V]]float64,
	meanActivity float64,
	headroom float64,
) {
	var hubs []*graph.Node[V]
	for _, n := range nodes {
		if activity[n] > 2*meanActivity && len(g.OutgoingEdges(n)) > 1 {
			hubs = append(hubs, n)
		}
	}
	sort.Slice(hubs, func(i, j int) bool {
		if activity[hubs[i]] != activity[hubs[j]] {
			return activity[hubs[i]] > activity[hubs[j]]
		}
		return hubs[i].Name() < hubs[j].Name()
	})

	logger := ctxlog.FromContext(ctx)
	for _, n := range hubs {
		current := n.CurrentPrecisionLevel()
		if current >= n.MaxPrecisionLevel() {
			continue
		}
		delta := float64(estimateMemory[V](current+1)) - float64(estimateMemory[V](current))
		if delta > headroom {
			continue
		}
		logger.Debug("Expanding hub node.", "node", n.Name(), "level", current+1)
		n.AdjustPrecision(current + 1)
		headroom -= delta
	}
}

// balanceForkPaths groups the downstream paths of every fork point by
// shared sink and sets each group's nodes to the group's clamped average
// precision.
func (p *MemoryAwareCompression[V]) balanceForkPaths(g *graph.Graph[V], nodes []*graph.Node[V]) {
	for _, n := range nodes {
		outgoing := g.OutgoingEdges(n)
		if len(outgoing) < 2 {
			continue
		}

		groups := make(map[*graph.Node[V]][]*graph.Node[V])
		var sinks []*graph.Node[V]
		for _, e := range outgoing {
			for _, sink := range p.pathEndpoints(g, e.To()) {
				if _, seen := groups[sink]; !seen {
					sinks = append(sinks, sink)
				}
				groups[sink] = append(groups[sink], e.To())
			}
		}

		sort.Slice(sinks, func(i, j int) bool { return sinks[i].Name() < sinks[j].Name() })
		for _, sink := range sinks {
			p.balanceGroup(groups[sink])
		}
	}
}

// pathEndpoints returns the sink nodes reachable downstream of start,
// ordered by name.
func (p *MemoryAwareCompression[V]) pathEndpoints(g *graph.Graph[V], start *graph.Node[V]) []*graph.Node[V] {
	visited := make(map[*graph.Node[V]]bool)
	var endpoints []*graph.Node[V]

	var visit func(n *graph.Node[V])
	visit = func(n *graph.Node[V]) {
		if visited[n] {
			return
		}
		visited[n] = true
		outgoing := g.OutgoingEdges(n)
		if len(outgoing) == 0 {
			endpoints = append(endpoints, n)
			return
		}
		for _, e := range outgoing {
			visit(e.To())
		}
	}
	visit(start)

	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Name() < endpoints[j].Name() })
	return endpoints
}

// balanceGroup moves every node in the group to the group's average
// precision, clamped into the intersection of the members' ranges.
func (p *MemoryAwareCompression[V]) balanceGroup(group []*graph.Node[V]) {
	if len(group) == 0 {
		return
	}

	total := 0
	groupMin := group[0].MinPrecisionLevel()
	groupMax := group[0].MaxPrecisionLevel()
	for _, n := range group {
		total += n.CurrentPrecisionLevel()
		if min := n.MinPrecisionLevel(); min > groupMin {
			groupMin = min
		}
		if max := n.MaxPrecisionLevel(); max < groupMax {
			groupMax = max
		}
	}
	if groupMin > groupMax {
		return
	}

	target := clamp(total/len(group), groupMin, groupMax)
	for _, n := range group {
		n.AdjustPrecision(target)
	}
}

// estimateMemory returns the estimated byte footprint of a node at the
// given precision level: (1 << level) * sizeof(V), saturating on shift
// overflow.
func estimateMemory[V comparable](level int) int64 {
	var zero V
	size := int64(reflect.TypeOf(&zero).Elem().Size())
	if size == 0 {
		size = 1
	}
	if level < 0 {
		level = 0
	}
	if level > maxShift {
		return math.MaxInt64
	}
	cells := int64(1) << uint(level)
	if cells > math.MaxInt64/size {
		return math.MaxInt64
	}
	return cells * size
}
