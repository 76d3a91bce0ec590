// Package analyze computes derived metrics over an assembled layout: how much
// of each dependency bundle is actually used, and which implicit assets were
// written into more than one file.
package analyze

import (
	"bundlegraph/layout"
)

// subtree maps every bundle below an edge to the assets referenced in it.
type subtree map[*layout.Bundle]map[*layout.ExplicitAsset]struct{}

func (s subtree) merge(other subtree) {
	for b, assets := range other {
		dst, ok := s[b]
		if !ok {
			dst = make(map[*layout.ExplicitAsset]struct{}, len(assets))
			s[b] = dst
		}
		for a := range assets {
			dst[a] = struct{}{}
		}
	}
}

type pending struct {
	src  *layout.Bundle
	edge *layout.BundleDependency
}

// efficiencyPass holds scratch state reused across roots of one call.
type efficiencyPass struct {
	cache    map[*layout.BundleDependency]subtree
	expanded map[*layout.BundleDependency]bool
	visited  map[*layout.Bundle]bool
	queue    []*layout.Bundle
	stack    []pending
}

// ComputeEfficiency writes Efficiency and ExpandedEfficiency onto every
// bundle dependency of l.
//
// Efficiency(A->B) is the share of B's file size taken by the assets A
// references in B. ExpandedEfficiency(A->B) extends both sides of the ratio
// to every bundle below B, counting each bundle once however many paths
// reach it. Both are 1.0 when the denominator is zero.
//
// Subtree results are memoized per edge across roots. On a dependency cycle
// the memo for an edge is filled from whichever root reaches it first, so
// ExpandedEfficiency for edges on the cycle depends on root order. Roots are
// visited in l.Bundles order, which is sorted by bundle id, so the result is
// stable for a given layout.
func ComputeEfficiency(l *layout.Layout) {
	p := &efficiencyPass{
		cache:    make(map[*layout.BundleDependency]subtree),
		expanded: make(map[*layout.BundleDependency]bool),
		visited:  make(map[*layout.Bundle]bool),
	}
	for _, root := range l.Bundles {
		p.run(root)
	}
}

func (p *efficiencyPass) run(root *layout.Bundle) {
	for b := range p.visited {
		delete(p.visited, b)
	}
	p.queue = append(p.queue[:0], root)
	p.stack = p.stack[:0]
	p.visited[root] = true

	for len(p.queue) > 0 {
		b := p.queue[0]
		p.queue = p.queue[1:]
		for _, d := range b.BundleDependencies {
			p.stack = append(p.stack, pending{src: b, edge: d})
			if !p.visited[d.DependencyBundle] {
				p.visited[d.DependencyBundle] = true
				p.queue = append(p.queue, d.DependencyBundle)
			}
		}
	}

	for len(p.stack) > 0 {
		n := len(p.stack) - 1
		cur := p.stack[n]
		p.stack = p.stack[:n]
		if _, done := p.cache[cur.edge]; done {
			continue
		}

		// children first; an edge is evaluated once they are cached or, on a
		// cycle, once it has already deferred to them a single time
		if !p.expanded[cur.edge] {
			var missing []pending
			for _, child := range cur.edge.DependencyBundle.BundleDependencies {
				if _, ok := p.cache[child]; !ok {
					missing = append(missing, pending{src: cur.edge.DependencyBundle, edge: child})
				}
			}
			if len(missing) > 0 {
				p.expanded[cur.edge] = true
				p.stack = append(p.stack, cur)
				p.stack = append(p.stack, missing...)
				continue
			}
		}
		p.evaluate(cur)
	}
}

func (p *efficiencyPass) evaluate(cur pending) {
	d := cur.edge
	target := d.DependencyBundle

	refs := make(map[*layout.ExplicitAsset]struct{})
	for _, a := range d.ReferencedAssets() {
		refs[a] = struct{}{}
	}
	info := subtree{target: refs}
	for _, child := range target.BundleDependencies {
		if ci, ok := p.cache[child]; ok {
			info.merge(ci)
		}
	}
	delete(info, cur.src)
	p.cache[d] = info

	d.Efficiency = ratio(d.ReferencedAssetsFileSize(), target.FileSize)

	var used, total uint64
	for b, assets := range info {
		var sum uint64
		for a := range assets {
			sum += a.TotalSize()
		}
		used += min(sum, b.FileSize)
		total += b.FileSize
	}
	d.ExpandedEfficiency = ratio(used, total)
}

func ratio(used, total uint64) float64 {
	if total == 0 {
		return 1.0
	}
	r := float64(used) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}
