package diff

import (
	"fmt"
	"sort"
	"time"

	"bundlegraph/layout"
)

type assetInfo struct {
	bundle string
	path   string
	size   uint64
}

func indexAssets(l *layout.Layout) map[string]assetInfo {
	out := make(map[string]assetInfo)
	for _, ea := range l.ExplicitAssets() {
		out[ea.GUID] = assetInfo{bundle: string(ea.Bundle.Name), path: ea.AssetPath, size: ea.TotalSize()}
	}
	return out
}

func indexBundles(l *layout.Layout) map[string]*layout.Bundle {
	out := make(map[string]*layout.Bundle, len(l.Bundles))
	for _, b := range l.Bundles {
		out[string(b.Name)] = b
	}
	return out
}

func depNames(b *layout.Bundle) map[string]struct{} {
	out := make(map[string]struct{})
	if b == nil {
		return out
	}
	for _, d := range b.Dependencies {
		out[string(d.Name)] = struct{}{}
	}
	return out
}

func describe(h layout.Header) string {
	if h.BuildStartTime.IsZero() {
		return h.BuildTarget
	}
	return fmt.Sprintf("%s@%s", h.BuildTarget, h.BuildStartTime.UTC().Format(time.RFC3339))
}

// Compare computes the changes from prev to curr. Assets are matched by GUID;
// an asset found in a different bundle is reported as moved under its new
// bundle.
func Compare(prev, curr *layout.Layout) *LayoutDiff {
	ld := &LayoutDiff{Base: describe(prev.Header), Head: describe(curr.Header)}

	oldBundles, newBundles := indexBundles(prev), indexBundles(curr)
	oldAssets, newAssets := indexAssets(prev), indexAssets(curr)

	byBundle := make(map[string][]AssetDiff)
	movedOut := make(map[string]bool)
	for guid, n := range newAssets {
		o, ok := oldAssets[guid]
		switch {
		case !ok:
			byBundle[n.bundle] = append(byBundle[n.bundle], AssetDiff{GUID: guid, Path: n.path, Action: ActionAdded, NewSize: n.size})
		case o.bundle != n.bundle:
			movedOut[o.bundle] = true
			byBundle[n.bundle] = append(byBundle[n.bundle], AssetDiff{
				GUID: guid, Path: n.path, Action: ActionMoved, FromBundle: o.bundle, OldSize: o.size, NewSize: n.size,
			})
		case o.size != n.size:
			byBundle[n.bundle] = append(byBundle[n.bundle], AssetDiff{GUID: guid, Path: n.path, Action: ActionModified, OldSize: o.size, NewSize: n.size})
		}
	}
	for guid, o := range oldAssets {
		if _, ok := newAssets[guid]; !ok {
			byBundle[o.bundle] = append(byBundle[o.bundle], AssetDiff{GUID: guid, Path: o.path, Action: ActionRemoved, OldSize: o.size})
		}
	}

	names := make(map[string]struct{})
	for n := range oldBundles {
		names[n] = struct{}{}
	}
	for n := range newBundles {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		o, n := oldBundles[name], newBundles[name]
		bd := BundleDiff{Name: name, Assets: byBundle[name]}
		switch {
		case o == nil:
			bd.Action = ActionAdded
			bd.NewSize = n.FileSize
		case n == nil:
			bd.Action = ActionRemoved
			bd.OldSize = o.FileSize
		default:
			bd.Action = ActionModified
			bd.OldSize, bd.NewSize = o.FileSize, n.FileSize
		}

		oldDeps, newDeps := depNames(o), depNames(n)
		if n != nil {
			for d := range newDeps {
				if _, ok := oldDeps[d]; !ok {
					bd.DependenciesAdded = append(bd.DependenciesAdded, d)
				}
			}
		}
		if o != nil && n != nil {
			for d := range oldDeps {
				if _, ok := newDeps[d]; !ok {
					bd.DependenciesRemoved = append(bd.DependenciesRemoved, d)
				}
			}
		}
		sort.Strings(bd.DependenciesAdded)
		sort.Strings(bd.DependenciesRemoved)

		if bd.Action == ActionModified && bd.OldSize == bd.NewSize && len(bd.Assets) == 0 &&
			len(bd.DependenciesAdded) == 0 && len(bd.DependenciesRemoved) == 0 && !movedOut[name] {
			continue
		}
		sort.Slice(bd.Assets, func(i, j int) bool {
			if bd.Assets[i].Path != bd.Assets[j].Path {
				return bd.Assets[i].Path < bd.Assets[j].Path
			}
			return bd.Assets[i].GUID < bd.Assets[j].GUID
		})
		ld.Bundles = append(ld.Bundles, bd)
	}

	ld.ComputeSummary()
	return ld
}
