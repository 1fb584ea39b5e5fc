package graphdef

import (
	"context"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/polyglot-support/flowgraph/cache"
	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/errors"
	"github.com/polyglot-support/flowgraph/graph"
	"github.com/polyglot-support/flowgraph/optimize"
	"github.com/polyglot-support/flowgraph/store"
)

// Build constructs an executable graph from a definition: nodes first,
// then explicit and implicit edges, then the optimization-pass pipeline.
// Formula variables create implicit edges from the referenced node to the
// formula node.
func Build(ctx context.Context, def *Definition) (*graph.Graph[float64], error) {
	logger := ctxlog.FromContext(ctx)

	opts, err := graphOptions(def.Settings)
	if err != nil {
		return nil, err
	}
	g := graph.New(opts...)

	nodes := make(map[string]*graph.Node[float64], len(def.Nodes))
	for _, nd := range def.Nodes {
		if _, exists := nodes[nd.Name]; exists {
			g.Close()
			return nil, errors.Validation("duplicate node %q", nd.Name)
		}
		n := buildNode(nd, def.Settings.MaxDepth, nodes)
		if nd.MinPrecision != nil || nd.MaxPrecision != nil {
			min, max := 0, n.MaxPrecisionLevel()
			if nd.MinPrecision != nil {
				min = *nd.MinPrecision
			}
			if nd.MaxPrecision != nil {
				max = *nd.MaxPrecision
			}
			if err := n.SetPrecisionRange(min, max); err != nil {
				g.Close()
				return nil, err
			}
		}
		if err := g.AddNode(n); err != nil {
			g.Close()
			return nil, err
		}
		nodes[nd.Name] = n
	}

	seen := make(map[string]bool)
	addEdge := func(from, to string) error {
		src, ok := nodes[from]
		if !ok {
			return errors.Validation("edge references unknown node %q", from)
		}
		dst, ok := nodes[to]
		if !ok {
			return errors.Validation("edge references unknown node %q", to)
		}
		key := from + "\x00" + to
		if seen[key] {
			return nil
		}
		seen[key] = true
		return g.AddEdge(graph.NewEdge(src, dst))
	}

	for _, nd := range def.Nodes {
		for _, dep := range nd.DependsOn {
			if err := addEdge(dep, nd.Name); err != nil {
				g.Close()
				return nil, err
			}
		}
		for _, variable := range formulaVariables(nd.Formula) {
			logger.Debug("Linking implicit dependency.", "node", nd.Name, "dependency", variable)
			if err := addEdge(variable, nd.Name); err != nil {
				g.Close()
				return nil, err
			}
		}
	}
	for _, ed := range def.Edges {
		if err := addEdge(ed.From, ed.To); err != nil {
			g.Close()
			return nil, err
		}
	}

	for _, name := range def.Settings.Passes {
		pass, err := passByName(name, def.Settings.MaxDepth)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.AddOptimizationPass(pass)
	}

	return g, nil
}

// graphOptions translates the definition settings into graph options.
func graphOptions(s Settings) ([]graph.GraphOption[float64], error) {
	var opts []graph.GraphOption[float64]
	if s.Workers > 0 {
		opts = append(opts, graph.WithWorkers[float64](s.Workers))
	}
	if s.Cache != nil {
		var policy cache.Policy
		switch s.Cache.Policy {
		case "lru":
			policy = cache.NewLRU(s.Cache.Capacity)
		case "lfu":
			policy = cache.NewLFU(s.Cache.Capacity)
		default:
			return nil, errors.Validation("unknown cache policy %q", s.Cache.Policy)
		}
		opts = append(opts, graph.WithCachePolicy[float64](policy))
	}
	return opts, nil
}

// buildNode creates the executable node for a declaration. Formula nodes
// resolve their dependencies through the shared node table at compute time;
// the table is fully populated before any computation starts.
func buildNode(nd *NodeDef, maxDepth int, nodes map[string]*graph.Node[float64]) *graph.Node[float64] {
	nodeOpts := []graph.NodeOption[float64]{
		graph.WithOps[float64](store.Numeric[float64]()),
	}
	if maxDepth > 0 {
		nodeOpts = append(nodeOpts, graph.WithMaxDepth[float64](maxDepth))
	}

	if nd.Value != nil {
		value := *nd.Value
		return graph.NewNode(nd.Name, func(ctx context.Context, level int) (float64, error) {
			return value, nil
		}, nodeOpts...)
	}

	formula := nd.Formula
	variables := formulaVariables(formula)
	fn := func(ctx context.Context, level int) (float64, error) {
		vars := make(map[string]cty.Value, len(variables))
		for _, name := range variables {
			dep, ok := nodes[name]
			if !ok {
				return 0, errors.Validation("formula references unknown node %q", name)
			}
			r := dep.Compute(ctx, dep.CurrentPrecisionLevel())
			if r.Failed() {
				return 0, r.Err()
			}
			vars[name] = cty.NumberFloatVal(r.Value())
		}

		val, diags := formula.Value(&hcl.EvalContext{Variables: vars})
		if diags.HasErrors() {
			return 0, errors.Computation("formula evaluation failed: %s", diags.Error())
		}
		if !val.Type().Equals(cty.Number) {
			return 0, errors.Computation("formula must produce a number, got %s", val.Type().FriendlyName())
		}
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	}
	return graph.NewNode(nd.Name, fn, nodeOpts...)
}

// formulaVariables returns the distinct root names referenced by a formula,
// sorted for deterministic linking.
func formulaVariables(expr hcl.Expression) []string {
	if expr == nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// passByName resolves an optimization pass from its configured name.
// Underscores and dashes are interchangeable.
func passByName(name string, maxDepth int) (graph.Pass[float64], error) {
	fusedOpts := []graph.NodeOption[float64]{
		graph.WithOps[float64](store.Numeric[float64]()),
	}
	if maxDepth > 0 {
		fusedOpts = append(fusedOpts, graph.WithMaxDepth[float64](maxDepth))
	}

	switch strings.ReplaceAll(strings.ToLower(name), "_", "-") {
	case "dead-node-elimination":
		return optimize.NewDeadNodeElimination[float64](), nil
	case "linear-chain-fusion":
		return optimize.NewLinearChainFusion(fusedOpts...), nil
	case "precision-propagation":
		return optimize.NewPrecisionPropagation[float64](), nil
	case "memory-aware-compression":
		return optimize.NewMemoryAwareCompression[float64](), nil
	default:
		return nil, errors.Validation("unknown optimization pass %q", name)
	}
}
