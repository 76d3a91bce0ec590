// Package diff compares the layouts of two builds of the same content: which
// bundles appeared, disappeared or changed, and which assets moved between
// bundles. It is what a content update needs to know before shipping.
package diff

// Action represents the type of change.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionRemoved  Action = "removed"
	ActionMoved    Action = "moved"
)

// AssetDiff represents a change to one explicit asset.
type AssetDiff struct {
	GUID       string `json:"guid"`
	Path       string `json:"path,omitempty"`
	Action     Action `json:"action"`
	FromBundle string `json:"fromBundle,omitempty"` // for moved assets
	OldSize    uint64 `json:"oldSize,omitempty"`
	NewSize    uint64 `json:"newSize,omitempty"`
}

// BundleDiff represents changes to a single bundle.
type BundleDiff struct {
	Name                string      `json:"name"`
	Action              Action      `json:"action"`
	OldSize             uint64      `json:"oldSize,omitempty"`
	NewSize             uint64      `json:"newSize,omitempty"`
	Assets              []AssetDiff `json:"assets,omitempty"`
	DependenciesAdded   []string    `json:"dependenciesAdded,omitempty"`
	DependenciesRemoved []string    `json:"dependenciesRemoved,omitempty"`
}

// DiffSummary provides aggregate statistics.
type DiffSummary struct {
	BundlesAdded    int   `json:"bundlesAdded"`
	BundlesModified int   `json:"bundlesModified"`
	BundlesRemoved  int   `json:"bundlesRemoved"`
	AssetsAdded     int   `json:"assetsAdded"`
	AssetsModified  int   `json:"assetsModified"`
	AssetsRemoved   int   `json:"assetsRemoved"`
	AssetsMoved     int   `json:"assetsMoved"`
	SizeDelta       int64 `json:"sizeDelta"`
}

// LayoutDiff represents a complete diff between two builds.
type LayoutDiff struct {
	Base    string       `json:"base,omitempty"` // build target and start time of the old layout
	Head    string       `json:"head,omitempty"`
	Bundles []BundleDiff `json:"bundles"`
	Summary DiffSummary  `json:"summary"`
}

// Empty reports whether nothing changed.
func (ld *LayoutDiff) Empty() bool {
	return len(ld.Bundles) == 0
}

// ComputeSummary calculates the summary from bundles.
func (ld *LayoutDiff) ComputeSummary() {
	ld.Summary = DiffSummary{}
	for _, b := range ld.Bundles {
		switch b.Action {
		case ActionAdded:
			ld.Summary.BundlesAdded++
		case ActionModified:
			ld.Summary.BundlesModified++
		case ActionRemoved:
			ld.Summary.BundlesRemoved++
		}
		ld.Summary.SizeDelta += int64(b.NewSize) - int64(b.OldSize)
		for _, a := range b.Assets {
			switch a.Action {
			case ActionAdded:
				ld.Summary.AssetsAdded++
			case ActionModified:
				ld.Summary.AssetsModified++
			case ActionRemoved:
				ld.Summary.AssetsRemoved++
			case ActionMoved:
				ld.Summary.AssetsMoved++
			}
		}
	}
}
