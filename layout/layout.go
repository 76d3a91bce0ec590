// Package layout is the in-memory model of one build's output: bundles, the
// files inside them, the explicit and implicit assets those files hold, and
// the asset-level links behind every bundle-to-bundle dependency.
//
// A Layout is assembled once per build and is read-only afterwards, apart from
// the annotations written by the analysis passes (efficiency, duplicates).
package layout

import (
	"sort"
	"time"

	"bundlegraph/ident"
	"bundlegraph/writedata"
)

// Layout is the root of the model.
type Layout struct {
	Header     Header
	Bundles    []*Bundle
	Duplicates []*AssetDuplicationData
}

// Header describes the build that produced a layout.
type Header struct {
	BuildTarget     string        `json:"buildTarget"`
	BuildStartTime  time.Time     `json:"buildStartTime"`
	Duration        time.Duration `json:"duration"`
	BuildError      string        `json:"buildError,omitempty"`
	SettingsVersion int           `json:"settingsVersion"`
	Strategy        string        `json:"strategy,omitempty"`
}

// Counts is a summary of layout sizes.
type Counts struct {
	Bundles        int `json:"bundles"`
	Files          int `json:"files"`
	ExplicitAssets int `json:"explicitAssets"`
	OtherAssets    int `json:"otherAssets"`
}

// Bundle returns the bundle named name.
func (l *Layout) Bundle(name ident.BundleKey) (*Bundle, bool) {
	for _, b := range l.Bundles {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// BundleByID returns the bundle with id.
func (l *Layout) BundleByID(id ident.BundleID) (*Bundle, bool) {
	for _, b := range l.Bundles {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// Files returns every file of every bundle in bundle order.
func (l *Layout) Files() []*File {
	var out []*File
	for _, b := range l.Bundles {
		out = append(out, b.Files...)
	}
	return out
}

// ExplicitAssets returns every explicit asset in bundle and file order.
func (l *Layout) ExplicitAssets() []*ExplicitAsset {
	var out []*ExplicitAsset
	for _, f := range l.Files() {
		out = append(out, f.Assets...)
	}
	return out
}

// OtherAssets returns every implicit asset occurrence in bundle and file order.
func (l *Layout) OtherAssets() []*DataFromOtherAsset {
	var out []*DataFromOtherAsset
	for _, f := range l.Files() {
		out = append(out, f.OtherAssets...)
	}
	return out
}

// Counts returns the number of bundles, files and assets.
func (l *Layout) Counts() Counts {
	c := Counts{Bundles: len(l.Bundles)}
	for _, f := range l.Files() {
		c.Files++
		c.ExplicitAssets += len(f.Assets)
		c.OtherAssets += len(f.OtherAssets)
	}
	return c
}

// Bundle is one physical output bundle.
type Bundle struct {
	ID               ident.BundleID
	Name             ident.BundleKey
	Group            ident.GroupKey
	FileSize         uint64
	UncompressedSize uint64
	Files            []*File

	Dependencies         []*Bundle
	ExpandedDependencies []*Bundle
	DependentBundles     []*Bundle
	BundleDependencies   []*BundleDependency

	deps map[*Bundle]*BundleDependency
}

// NewBundle returns an empty bundle.
func NewBundle(id ident.BundleID, name ident.BundleKey) *Bundle {
	return &Bundle{
		ID:   id,
		Name: name,
		deps: make(map[*Bundle]*BundleDependency),
	}
}

// BundleDependency returns the edge from b to to, or nil.
func (b *Bundle) BundleDependency(to *Bundle) *BundleDependency {
	return b.deps[to]
}

// LinkDependency returns the edge from b to to, creating it and both
// directions of the bundle link when it does not exist yet. It returns nil
// when to is b.
func (b *Bundle) LinkDependency(to *Bundle) *BundleDependency {
	if to == b {
		return nil
	}
	if d, ok := b.deps[to]; ok {
		return d
	}
	if b.deps == nil {
		b.deps = make(map[*Bundle]*BundleDependency)
	}
	d := newBundleDependency(to)
	b.deps[to] = d
	b.BundleDependencies = append(b.BundleDependencies, d)
	b.Dependencies = append(b.Dependencies, to)
	to.DependentBundles = append(to.DependentBundles, b)
	return d
}

// UpdateBundleDependency records that root, an asset of b, references
// referenced, an asset of another bundle.
func (b *Bundle) UpdateBundleDependency(root, referenced *ExplicitAsset) {
	if d := b.LinkDependency(referenced.Bundle); d != nil {
		d.CreateAssetDependency(root, referenced)
	}
}

// AssetCount returns the number of explicit assets in the bundle.
func (b *Bundle) AssetCount() int {
	n := 0
	for _, f := range b.Files {
		n += len(f.Assets)
	}
	return n
}

// SortLinks orders the bundle's link lists by bundle id.
func (b *Bundle) SortLinks() {
	byID := func(s []*Bundle) {
		sort.Slice(s, func(i, j int) bool { return ident.Less(s[i].ID, s[j].ID) })
	}
	byID(b.Dependencies)
	byID(b.ExpandedDependencies)
	byID(b.DependentBundles)
	sort.Slice(b.BundleDependencies, func(i, j int) bool {
		return ident.Less(b.BundleDependencies[i].DependencyBundle.ID, b.BundleDependencies[j].DependencyBundle.ID)
	})
}

// File is one serialized file inside a bundle.
type File struct {
	Name                 string
	WriteResultFilename  string
	Bundle               *Bundle
	Assets               []*ExplicitAsset
	OtherAssets          []*DataFromOtherAsset
	SubFiles             []writedata.SubFile
	BundleObjectInfoSize uint64
	PreloadInfoSize      uint64
	MonoScriptCount      int
	MonoScriptSize       uint64
	UncompressedSize     uint64
}

// Object is one serialized object owned by an asset.
type Object struct {
	LocalID        int64  `json:"localId"`
	SerializedSize uint64 `json:"serializedSize"`
	StreamedSize   uint64 `json:"streamedSize,omitempty"`
}

// ExplicitAsset is an asset that was directly assigned to a bundle.
type ExplicitAsset struct {
	GUID            string
	AssetPath       string
	AddressableName string
	Group           ident.GroupKey
	MainAssetType   string
	File            *File
	Bundle          *Bundle
	Objects         []Object
	SerializedSize  uint64
	StreamedSize    uint64

	InternalReferencedOtherAssets    []*DataFromOtherAsset
	InternalReferencedExplicitAssets []*ExplicitAsset
	ExternallyReferencedAssets       []*ExplicitAsset
	ReferencingAssets                []*ExplicitAsset
}

// TotalSize returns serialized plus streamed bytes.
func (a *ExplicitAsset) TotalSize() uint64 {
	return a.SerializedSize + a.StreamedSize
}

// AddObject appends o and updates the size totals.
func (a *ExplicitAsset) AddObject(o Object) {
	a.Objects = append(a.Objects, o)
	a.SerializedSize += o.SerializedSize
	a.StreamedSize += o.StreamedSize
}

// DataFromOtherAsset is content pulled into a file implicitly, because an
// explicit asset of that file references it.
type DataFromOtherAsset struct {
	AssetID           ident.AssetID
	AssetPath         string
	MainAssetType     string
	File              *File
	Objects           []Object
	SerializedSize    uint64
	StreamedSize      uint64
	ReferencingAssets []*ExplicitAsset
}

// TotalSize returns serialized plus streamed bytes.
func (a *DataFromOtherAsset) TotalSize() uint64 {
	return a.SerializedSize + a.StreamedSize
}

// AddObject appends o and updates the size totals.
func (a *DataFromOtherAsset) AddObject(o Object) {
	a.Objects = append(a.Objects, o)
	a.SerializedSize += o.SerializedSize
	a.StreamedSize += o.StreamedSize
}

// AssetDependency is one root asset referencing one asset of another bundle.
type AssetDependency struct {
	RootAsset       *ExplicitAsset
	DependencyAsset *ExplicitAsset
}

// BundleDependency is the edge from a bundle to one of its dependencies.
type BundleDependency struct {
	DependencyBundle   *Bundle
	AssetDependencies  []AssetDependency
	Efficiency         float64
	ExpandedEfficiency float64

	pairs                    map[AssetDependency]struct{}
	referencedAssets         map[*ExplicitAsset]struct{}
	referencedAssetsFileSize uint64
}

func newBundleDependency(to *Bundle) *BundleDependency {
	return &BundleDependency{
		DependencyBundle: to,
		pairs:            make(map[AssetDependency]struct{}),
		referencedAssets: make(map[*ExplicitAsset]struct{}),
	}
}

// CreateAssetDependency records that root references dep. Each pair is listed
// once; dep's bytes are counted once no matter how many roots reference it.
func (d *BundleDependency) CreateAssetDependency(root, dep *ExplicitAsset) {
	pair := AssetDependency{RootAsset: root, DependencyAsset: dep}
	if _, ok := d.pairs[pair]; !ok {
		d.pairs[pair] = struct{}{}
		d.AssetDependencies = append(d.AssetDependencies, pair)
	}
	if _, ok := d.referencedAssets[dep]; !ok {
		d.referencedAssets[dep] = struct{}{}
		d.referencedAssetsFileSize += dep.TotalSize()
	}
}

// ReferencedAssetsFileSize returns the summed size of every distinct
// dependency asset.
func (d *BundleDependency) ReferencedAssetsFileSize() uint64 {
	return d.referencedAssetsFileSize
}

// ReferencedAssets returns the distinct dependency assets sorted by GUID.
func (d *BundleDependency) ReferencedAssets() []*ExplicitAsset {
	out := make([]*ExplicitAsset, 0, len(d.referencedAssets))
	for a := range d.referencedAssets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// AssetDuplicationData lists the objects of one implicit asset that were
// written into more than one file.
type AssetDuplicationData struct {
	AssetID ident.AssetID
	Objects []ObjectDuplicationData
}

// ObjectDuplicationData is one duplicated object and the files holding it.
type ObjectDuplicationData struct {
	LocalID int64
	Files   []*File
}
