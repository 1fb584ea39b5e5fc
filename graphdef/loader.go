// Package graphdef loads declarative computation-graph definitions from
// HCL files and builds executable graphs from them. A definition declares
// nodes (constant values or formulas over other nodes), explicit edges,
// and graph-wide settings: worker count, cache policy, and the
// optimization-pass pipeline. Formula variables become implicit edges.
package graphdef

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"golang.org/x/sync/errgroup"

	"github.com/polyglot-support/flowgraph/ctxlog"
	"github.com/polyglot-support/flowgraph/errors"
)

// fileRoot decodes the top-level blocks of a definition file.
type fileRoot struct {
	Graph  *graphHCL  `hcl:"graph,block"`
	Nodes  []*nodeHCL `hcl:"node,block"`
	Edges  []*edgeHCL `hcl:"edge,block"`
	Remain hcl.Body   `hcl:",remain"`
}

type graphHCL struct {
	Workers  int       `hcl:"workers,optional"`
	MaxDepth int       `hcl:"max_depth,optional"`
	Passes   []string  `hcl:"passes,optional"`
	Cache    *cacheHCL `hcl:"cache,block"`
}

type cacheHCL struct {
	Policy   string `hcl:"policy"`
	Capacity int    `hcl:"capacity"`
}

// nodeHCL keeps the node body undecoded; attributes are extracted manually
// so that formulas stay unevaluated expressions.
type nodeHCL struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type edgeHCL struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// Loader parses .hcl graph definition files.
type Loader struct{}

// NewLoader creates a definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file found at the given paths (files or
// directories, walked recursively) and merges them into one Definition.
// Files parse concurrently; merging is deterministic in path order.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Definition, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered definition files.", "count", len(files))

	roots := make([]*fileRoot, len(files))
	group, _ := errgroup.WithContext(ctx)
	for i, file := range files {
		group.Go(func() error {
			root, err := l.parseFile(file)
			if err != nil {
				return err
			}
			roots[i] = root
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	def := &Definition{}
	graphSeen := false
	for i, root := range roots {
		if err := l.merge(def, root, files[i], &graphSeen); err != nil {
			return nil, err
		}
	}

	logger.Debug("Definition loading complete.",
		"nodes", len(def.Nodes), "edges", len(def.Edges), "passes", len(def.Settings.Passes))
	return def, nil
}

// parseFile parses and decodes a single definition file.
func (l *Loader) parseFile(path string) (*fileRoot, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Validation("failed to parse %s: %s", path, diags.Error())
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, errors.Validation("failed to decode %s: %s", path, diags.Error())
	}
	return &root, nil
}

// merge folds one decoded file into the accumulated definition.
func (l *Loader) merge(def *Definition, root *fileRoot, path string, graphSeen *bool) error {
	if root.Graph != nil {
		if *graphSeen {
			return errors.Validation("duplicate graph block in %s", path)
		}
		*graphSeen = true
		def.Settings.Workers = root.Graph.Workers
		def.Settings.MaxDepth = root.Graph.MaxDepth
		def.Settings.Passes = root.Graph.Passes
		if root.Graph.Cache != nil {
			def.Settings.Cache = &CacheSettings{
				Policy:   strings.ToLower(root.Graph.Cache.Policy),
				Capacity: root.Graph.Cache.Capacity,
			}
		}
	}

	for _, n := range root.Nodes {
		nodeDef, err := l.translateNode(n, path)
		if err != nil {
			return err
		}
		def.Nodes = append(def.Nodes, nodeDef)
	}

	for _, e := range root.Edges {
		def.Edges = append(def.Edges, &EdgeDef{From: e.From, To: e.To})
	}
	return nil
}

// translateNode extracts a node declaration from its HCL body.
func (l *Loader) translateNode(n *nodeHCL, path string) (*NodeDef, error) {
	attrs, diags := n.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, errors.Validation("invalid node %q in %s: %s", n.Name, path, diags.Error())
	}

	def := &NodeDef{Name: n.Name}
	for name, attr := range attrs {
		switch name {
		case "value":
			var v float64
			if diags := gohcl.DecodeExpression(attr.Expr, nil, &v); diags.HasErrors() {
				return nil, errors.Validation("node %q: invalid value: %s", n.Name, diags.Error())
			}
			def.Value = &v
		case "formula":
			def.Formula = attr.Expr
		case "min_precision":
			var v int
			if diags := gohcl.DecodeExpression(attr.Expr, nil, &v); diags.HasErrors() {
				return nil, errors.Validation("node %q: invalid min_precision: %s", n.Name, diags.Error())
			}
			def.MinPrecision = &v
		case "max_precision":
			var v int
			if diags := gohcl.DecodeExpression(attr.Expr, nil, &v); diags.HasErrors() {
				return nil, errors.Validation("node %q: invalid max_precision: %s", n.Name, diags.Error())
			}
			def.MaxPrecision = &v
		case "depends_on":
			var deps []string
			if diags := gohcl.DecodeExpression(attr.Expr, nil, &deps); diags.HasErrors() {
				return nil, errors.Validation("node %q: invalid depends_on: %s", n.Name, diags.Error())
			}
			def.DependsOn = deps
		default:
			return nil, errors.Validation("node %q: unsupported attribute %q in %s", n.Name, name, path)
		}
	}

	if def.Value == nil && def.Formula == nil {
		return nil, errors.Validation("node %q must declare either value or formula", n.Name)
	}
	if def.Value != nil && def.Formula != nil {
		return nil, errors.Validation("node %q declares both value and formula", n.Name)
	}
	return def, nil
}

// findHCLFiles walks the given paths and returns every .hcl file, sorted
// and de-duplicated.
func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Validation("path does not exist: %s", path)
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				files = append(files, path)
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(p) != ".hcl" {
				return nil
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", path, err)
		}
	}

	sort.Strings(files)
	return files, nil
}
