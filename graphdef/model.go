package graphdef

import "github.com/hashicorp/hcl/v2"

// Definition is the format-agnostic representation of a declared
// computation graph: global settings plus node and edge declarations.
type Definition struct {
	Settings Settings
	Nodes    []*NodeDef
	Edges    []*EdgeDef
}

// Settings holds the graph-wide configuration from the `graph` block.
type Settings struct {
	// Workers sizes the graph's worker pool; 0 keeps the default.
	Workers int
	// MaxDepth is the default precision depth for every node; 0 keeps the
	// library default.
	MaxDepth int
	// Cache configures the result cache; nil leaves it unbounded.
	Cache *CacheSettings
	// Passes names the optimization passes to register, in order.
	Passes []string
}

// CacheSettings configures the graph's result cache.
type CacheSettings struct {
	Policy   string
	Capacity int
}

// NodeDef is a declared node: either a constant value or a formula
// evaluated against the values of its dependencies.
type NodeDef struct {
	Name string
	// Value is set for constant nodes.
	Value *float64
	// Formula is set for computed nodes; its variables become implicit
	// dependencies.
	Formula hcl.Expression
	// MinPrecision and MaxPrecision bound the node's precision range when
	// present.
	MinPrecision *int
	MaxPrecision *int
	// DependsOn lists explicit dependencies by node name.
	DependsOn []string
}

// EdgeDef is a declared edge between two named nodes.
type EdgeDef struct {
	From string
	To   string
}
