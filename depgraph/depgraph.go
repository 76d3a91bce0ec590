// Package depgraph builds the bundle-to-bundle dependency graph of a build:
// the immediate edges implied by every entry's dependencies and the
// transitive closure of those edges.
package depgraph

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"bundlegraph/entry"
	"bundlegraph/ident"
)

var (
	// ErrMissingBundle is returned when an entry has no bundle attribution.
	ErrMissingBundle = errors.New("asset has no bundle")
	// ErrSelfDependency is returned when a bundle other than the MonoScript
	// sentinel depends on itself.
	ErrSelfDependency = errors.New("bundle depends on itself")
)

// DependencyResolver returns every asset an asset depends on, recursively.
type DependencyResolver interface {
	Dependencies(id ident.AssetID) []ident.AssetID
}

// Input is everything the builder consumes.
type Input struct {
	// AssetBundles maps each written asset to its bundles, own bundle first.
	AssetBundles map[ident.AssetID][]ident.BundleID
	Groups       []*entry.AssetGroup
	Resolver     DependencyResolver
}

type bundleSet map[ident.BundleID]struct{}

func (s bundleSet) add(id ident.BundleID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Graph holds the immediate and expanded dependency sets of every bundle.
//
// The MonoScript bundle always carries a self-loop in the raw edge set.
// Consumers use it as a marker that script data is shared by every bundle; it
// is not a real cycle and is filtered from Immediate, Expanded and Cycles.
type Graph struct {
	raw      map[ident.BundleID]bundleSet
	expanded map[ident.BundleID]bundleSet
}

// New returns an empty graph containing only the MonoScript sentinel.
func New() *Graph {
	g := &Graph{
		raw:      make(map[ident.BundleID]bundleSet),
		expanded: make(map[ident.BundleID]bundleSet),
	}
	g.node(ident.MonoScriptBundle).add(ident.MonoScriptBundle)
	return g
}

func (g *Graph) node(id ident.BundleID) bundleSet {
	s, ok := g.raw[id]
	if !ok {
		s = make(bundleSet)
		g.raw[id] = s
	}
	return s
}

// Build constructs the graph for one build.
func Build(in Input) (*Graph, error) {
	g := New()

	for _, bundles := range in.AssetBundles {
		for _, b := range bundles {
			g.node(b)
		}
	}

	for _, group := range in.Groups {
		for _, e := range group.Entries() {
			id := e.AssetID()
			bundles := in.AssetBundles[id]
			if len(bundles) == 0 {
				return nil, fmt.Errorf("entry %s (%s) in group %s: %w", e.GUID, e.Address, group.Key, ErrMissingBundle)
			}
			own := bundles[0]
			deps := g.node(own)

			for _, b := range bundles[1:] {
				if b != own {
					deps.add(b)
				}
			}

			if in.Resolver == nil {
				continue
			}
			for _, dep := range in.Resolver.Dependencies(id) {
				depBundles, ok := in.AssetBundles[dep]
				if !ok || len(depBundles) == 0 {
					// implicit content, travels with whoever includes it
					continue
				}
				if depBundles[0] != own {
					deps.add(depBundles[0])
				}
			}
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.Recompute()
	return g, nil
}

// Validate checks the unfiltered edge set for self-dependencies.
func (g *Graph) Validate() error {
	for b, deps := range g.raw {
		if b == ident.MonoScriptBundle {
			continue
		}
		if _, self := deps[b]; self {
			return fmt.Errorf("bundle %d: %w", int(b), ErrSelfDependency)
		}
	}
	return nil
}

// AddEdge adds an immediate edge from -> to. Call Recompute afterwards to
// refresh expanded sets. Self edges are rejected except for the sentinel.
func (g *Graph) AddEdge(from, to ident.BundleID) error {
	if from == to && from != ident.MonoScriptBundle {
		return fmt.Errorf("bundle %d: %w", int(from), ErrSelfDependency)
	}
	g.node(to)
	g.node(from).add(to)
	return nil
}

// Recompute rebuilds every expanded set from the immediate edges.
func (g *Graph) Recompute() {
	g.expanded = make(map[ident.BundleID]bundleSet, len(g.raw))
	stack := make([]ident.BundleID, 0, len(g.raw))
	for root := range g.raw {
		visited := make(bundleSet)
		stack = stack[:0]
		for dep := range g.raw[root] {
			if visited.add(dep) {
				stack = append(stack, dep)
			}
		}
		for len(stack) > 0 {
			n := len(stack) - 1
			cur := stack[n]
			stack = stack[:n]
			for dep := range g.raw[cur] {
				if visited.add(dep) {
					stack = append(stack, dep)
				}
			}
		}
		g.expanded[root] = visited
	}
}

// Bundles returns every bundle in the graph in ident.Less order.
func (g *Graph) Bundles() []ident.BundleID {
	ids := make([]ident.BundleID, 0, len(g.raw))
	for id := range g.raw {
		ids = append(ids, id)
	}
	ident.SortBundleIDs(ids)
	return ids
}

// Has reports whether b is a node of the graph.
func (g *Graph) Has(b ident.BundleID) bool {
	_, ok := g.raw[b]
	return ok
}

func filtered(b ident.BundleID, s bundleSet) []ident.BundleID {
	out := make([]ident.BundleID, 0, len(s))
	for id := range s {
		if id != b {
			out = append(out, id)
		}
	}
	ident.SortBundleIDs(out)
	return out
}

// Immediate returns the direct dependencies of b, never including b.
func (g *Graph) Immediate(b ident.BundleID) []ident.BundleID {
	return filtered(b, g.raw[b])
}

// RawImmediate returns the unfiltered direct dependencies of b. For the
// MonoScript bundle this includes the bundle itself.
func (g *Graph) RawImmediate(b ident.BundleID) []ident.BundleID {
	out := make([]ident.BundleID, 0, len(g.raw[b]))
	for id := range g.raw[b] {
		out = append(out, id)
	}
	ident.SortBundleIDs(out)
	return out
}

// Expanded returns every bundle reachable from b, never including b.
func (g *Graph) Expanded(b ident.BundleID) []ident.BundleID {
	return filtered(b, g.expanded[b])
}

// DependsOn reports whether a reaches b through one or more edges.
func (g *Graph) DependsOn(a, b ident.BundleID) bool {
	if a == b {
		return false
	}
	_, ok := g.expanded[a][b]
	return ok
}

// Dependents returns every bundle with a direct edge to b.
func (g *Graph) Dependents(b ident.BundleID) []ident.BundleID {
	var out []ident.BundleID
	for src, deps := range g.raw {
		if src == b {
			continue
		}
		if _, ok := deps[b]; ok {
			out = append(out, src)
		}
	}
	ident.SortBundleIDs(out)
	return out
}

// Cycles returns the strongly connected components with more than one bundle,
// ordered by their first bundle.
func (g *Graph) Cycles() [][]ident.BundleID {
	dg := simple.NewDirectedGraph()
	for id := range g.raw {
		dg.AddNode(simple.Node(int64(id)))
	}
	for src, deps := range g.raw {
		for dst := range deps {
			if src == dst {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(int64(src)), simple.Node(int64(dst))))
		}
	}

	var cycles [][]ident.BundleID
	for _, component := range topo.TarjanSCC(dg) {
		if len(component) < 2 {
			continue
		}
		ids := make([]ident.BundleID, len(component))
		for i, n := range component {
			ids[i] = ident.BundleID(n.ID())
		}
		ident.SortBundleIDs(ids)
		cycles = append(cycles, ids)
	}
	sort.Slice(cycles, func(i, j int) bool { return ident.Less(cycles[i][0], cycles[j][0]) })
	return cycles
}
