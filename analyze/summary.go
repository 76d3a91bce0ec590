package analyze

import (
	"sort"

	"bundlegraph/ident"
	"bundlegraph/layout"
)

// BundleSummary is one row of the per-bundle report.
type BundleSummary struct {
	ID               ident.BundleID  `json:"id" yaml:"id"`
	Name             ident.BundleKey `json:"name" yaml:"name"`
	Group            ident.GroupKey  `json:"group,omitempty" yaml:"group,omitempty"`
	FileSize         uint64          `json:"fileSize" yaml:"fileSize"`
	UncompressedSize uint64          `json:"uncompressedSize" yaml:"uncompressedSize"`
	Files            int             `json:"files" yaml:"files"`
	ExplicitAssets   int             `json:"explicitAssets" yaml:"explicitAssets"`
	OtherAssets      int             `json:"otherAssets" yaml:"otherAssets"`
	Dependencies     int             `json:"dependencies" yaml:"dependencies"`
	Expanded         int             `json:"expandedDependencies" yaml:"expandedDependencies"`
	Dependents       int             `json:"dependents" yaml:"dependents"`
	WorstEfficiency  float64         `json:"worstEfficiency" yaml:"worstEfficiency"`
}

// Summary returns one row per bundle in layout order. WorstEfficiency is the
// lowest Efficiency over the bundle's outgoing edges, 1.0 when it has none.
func Summary(l *layout.Layout) []BundleSummary {
	rows := make([]BundleSummary, 0, len(l.Bundles))
	for _, b := range l.Bundles {
		row := BundleSummary{
			ID:               b.ID,
			Name:             b.Name,
			Group:            b.Group,
			FileSize:         b.FileSize,
			UncompressedSize: b.UncompressedSize,
			Files:            len(b.Files),
			Dependencies:     len(b.Dependencies),
			Expanded:         len(b.ExpandedDependencies),
			Dependents:       len(b.DependentBundles),
			WorstEfficiency:  1.0,
		}
		for _, f := range b.Files {
			row.ExplicitAssets += len(f.Assets)
			row.OtherAssets += len(f.OtherAssets)
		}
		for _, d := range b.BundleDependencies {
			row.WorstEfficiency = min(row.WorstEfficiency, d.Efficiency)
		}
		rows = append(rows, row)
	}
	return rows
}

// Edge is one bundle dependency flattened for output.
type Edge struct {
	From               ident.BundleKey `json:"from" yaml:"from"`
	To                 ident.BundleKey `json:"to" yaml:"to"`
	AssetDependencies  int             `json:"assetDependencies" yaml:"assetDependencies"`
	ReferencedSize     uint64          `json:"referencedSize" yaml:"referencedSize"`
	TargetSize         uint64          `json:"targetSize" yaml:"targetSize"`
	Efficiency         float64         `json:"efficiency" yaml:"efficiency"`
	ExpandedEfficiency float64         `json:"expandedEfficiency" yaml:"expandedEfficiency"`
}

// Edges returns every bundle dependency, least efficient first.
func Edges(l *layout.Layout) []Edge {
	var out []Edge
	for _, b := range l.Bundles {
		for _, d := range b.BundleDependencies {
			out = append(out, Edge{
				From:               b.Name,
				To:                 d.DependencyBundle.Name,
				AssetDependencies:  len(d.AssetDependencies),
				ReferencedSize:     d.ReferencedAssetsFileSize(),
				TargetSize:         d.DependencyBundle.FileSize,
				Efficiency:         d.Efficiency,
				ExpandedEfficiency: d.ExpandedEfficiency,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Efficiency != out[j].Efficiency {
			return out[i].Efficiency < out[j].Efficiency
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
