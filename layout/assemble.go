package layout

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"bundlegraph/depgraph"
	"bundlegraph/entry"
	"bundlegraph/ident"
	"bundlegraph/writedata"
)

// ErrMissingBundle is returned when an asset cannot be attributed to a bundle.
var ErrMissingBundle = errors.New("asset has no bundle")

// AssetDatabase resolves asset GUIDs to paths and paths to main types.
type AssetDatabase interface {
	GUIDToPath(guid string) string
	MainAssetType(path string) string
}

// SizeProber returns the on-disk size of a written bundle file.
type SizeProber interface {
	Size(path string) (uint64, error)
}

// OSProber stats files on the local filesystem.
type OSProber struct{}

// Size implements SizeProber.
func (OSProber) Size(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

// AssembleInput carries everything Assemble consumes. Graph is updated in place
// when object references reveal edges it does not have.
type AssembleInput struct {
	Header   Header
	Results  *writedata.WriteResults
	Graph    *depgraph.Graph
	Registry *ident.Registry
	Settings *entry.Settings
	Assets   AssetDatabase
	Prober   SizeProber
	Types    *TypeCache
	Logger   logrus.FieldLogger
}

type otherKey struct {
	file *File
	id   ident.AssetID
}

type assembler struct {
	in  AssembleInput
	log logrus.FieldLogger

	bundles  map[ident.BundleID]*Bundle
	files    map[string]*File
	explicit map[string]*ExplicitAsset
	others   map[otherKey]*DataFromOtherAsset

	newEdges bool
}

// Assemble builds the layout of one build from its write results and
// dependency graph.
func Assemble(in AssembleInput) (*Layout, error) {
	if in.Results == nil || in.Graph == nil || in.Registry == nil {
		return nil, errors.New("assembling layout: write results, graph and registry are required")
	}
	if in.Prober == nil {
		in.Prober = OSProber{}
	}
	if in.Types == nil {
		tc, err := NewTypeCache(DefaultTypeCacheSize)
		if err != nil {
			return nil, err
		}
		in.Types = tc
	}
	log := in.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	a := &assembler{
		in:       in,
		log:      log.WithField("component", "layout"),
		bundles:  make(map[ident.BundleID]*Bundle),
		files:    make(map[string]*File),
		explicit: make(map[string]*ExplicitAsset),
		others:   make(map[otherKey]*DataFromOtherAsset),
	}

	a.createBundles()
	a.createFiles()
	if err := a.createExplicitAssets(); err != nil {
		return nil, err
	}
	a.attributeObjects()
	a.linkReferences()
	return a.finish(), nil
}

func (a *assembler) createBundles() {
	g := a.in.Graph
	wanted := make(map[ident.BundleID]struct{})
	for _, name := range a.in.Results.BundleNames() {
		wanted[a.in.Registry.Register(name)] = struct{}{}
	}
	for _, id := range g.Bundles() {
		if len(g.Immediate(id)) > 0 || len(g.Dependents(id)) > 0 {
			wanted[id] = struct{}{}
		}
	}

	for id := range wanted {
		b := NewBundle(id, a.in.Registry.Name(id))
		a.bundles[id] = b
	}
	for _, id := range g.Bundles() {
		b, ok := a.bundles[id]
		if !ok {
			continue
		}
		for _, dep := range g.Immediate(id) {
			if to, ok := a.bundles[dep]; ok {
				b.LinkDependency(to)
			}
		}
	}
}

func (a *assembler) bundleFileSize(b *Bundle) uint64 {
	bf, ok := a.in.Results.BundleFiles[b.Name]
	switch {
	case ok && bf.Size != nil:
		return *bf.Size
	case ok && bf.Path != "":
		size, err := a.in.Prober.Size(bf.Path)
		if err != nil {
			a.log.WithError(err).WithField("bundle", b.Name).Warn("bundle file not found, recording size 0")
			return 0
		}
		return size
	default:
		a.log.WithField("bundle", b.Name).Debug("no bundle file recorded, using uncompressed size")
		return b.UncompressedSize
	}
}

func (a *assembler) createFiles() {
	res := a.in.Results
	for _, name := range res.Files() {
		id := a.in.Registry.Register(res.FileToBundle[name])
		b := a.bundles[id]
		f := &File{
			Name:                path.Base(name),
			WriteResultFilename: name,
			Bundle:              b,
			SubFiles:            res.FileSubFiles[name],
		}
		if len(f.SubFiles) > 0 {
			for _, sf := range f.SubFiles {
				f.UncompressedSize += sf.Size
			}
		} else {
			for _, rec := range res.FileToObjects[name] {
				f.UncompressedSize += rec.Size()
			}
		}
		b.Files = append(b.Files, f)
		b.UncompressedSize += f.UncompressedSize
		a.files[name] = f
	}
	for _, b := range a.bundles {
		b.FileSize = a.bundleFileSize(b)
	}
}

func (a *assembler) assetPath(guid string) string {
	if a.in.Assets == nil {
		return ""
	}
	return a.in.Assets.GUIDToPath(guid)
}

func (a *assembler) createExplicitAssets() error {
	res := a.in.Results
	guids := make([]string, 0, len(res.AssetToFiles))
	for guid := range res.AssetToFiles {
		guids = append(guids, guid)
	}
	sort.Strings(guids)

	for _, guid := range guids {
		files := res.AssetToFiles[guid]
		if len(files) == 0 {
			return fmt.Errorf("assembling layout: asset %s has no files: %w", guid, ErrMissingBundle)
		}
		// first file wins when an asset was written more than once
		f, ok := a.files[files[0]]
		if !ok || f.Bundle == nil {
			return fmt.Errorf("assembling layout: asset %s file %s: %w", guid, files[0], ErrMissingBundle)
		}

		ea := &ExplicitAsset{
			GUID:      guid,
			AssetPath: a.assetPath(guid),
			File:      f,
			Bundle:    f.Bundle,
		}
		if a.in.Settings != nil {
			if e, g, ok := a.in.Settings.FindEntry(guid); ok {
				ea.AddressableName = e.Address
				ea.Group = g.Key
				if ea.AssetPath == "" {
					ea.AssetPath = e.Path
				}
			}
		}
		ea.MainAssetType = a.in.Types.Lookup(a.in.Assets, ea.AssetPath)
		if f.Bundle.Group == "" {
			f.Bundle.Group = ea.Group
		}

		f.Assets = append(f.Assets, ea)
		a.explicit[guid] = ea
	}
	return nil
}

func isScene(p string) bool {
	return strings.EqualFold(path.Ext(p), ".unity")
}

func isScript(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".cs" || ext == ".dll"
}

// tempOwner returns the asset that synthetic temp objects of f belong to: the
// file's scene, else its first explicit asset.
func tempOwner(f *File) *ExplicitAsset {
	for _, ea := range f.Assets {
		if isScene(ea.AssetPath) {
			return ea
		}
	}
	if len(f.Assets) > 0 {
		return f.Assets[0]
	}
	return nil
}

func (a *assembler) other(f *File, id ident.AssetID, p string) *DataFromOtherAsset {
	key := otherKey{file: f, id: id}
	if o, ok := a.others[key]; ok {
		return o
	}
	o := &DataFromOtherAsset{
		AssetID:       id,
		AssetPath:     p,
		MainAssetType: a.in.Types.Lookup(a.in.Assets, p),
		File:          f,
	}
	f.OtherAssets = append(f.OtherAssets, o)
	a.others[key] = o
	return o
}

func (a *assembler) attributeObjects() {
	res := a.in.Results
	for _, name := range res.Files() {
		f := a.files[name]
		for _, rec := range res.FileToObjects[name] {
			obj := Object{LocalID: rec.LocalID, SerializedSize: rec.SerializedSize, StreamedSize: rec.StreamedSize}

			if rec.IsTemp() {
				switch rec.Path {
				case writedata.TempBundleInfoPath:
					f.BundleObjectInfoSize += rec.Size()
				case writedata.TempPreloadPath:
					f.PreloadInfoSize += rec.Size()
				default:
					if owner := tempOwner(f); owner != nil {
						owner.AddObject(obj)
					} else {
						a.other(f, rec.AssetID(), rec.Path).AddObject(obj)
					}
				}
				continue
			}

			if rec.GUID != "" {
				if ea, ok := a.explicit[rec.GUID]; ok && ea.File == f {
					ea.AddObject(obj)
					continue
				}
			}

			id := rec.AssetID()
			p := rec.Path
			if !id.IsPath {
				p = a.assetPath(rec.GUID)
				if p == "" {
					p = rec.Path
				}
			}
			if isScript(p) {
				f.MonoScriptCount++
				f.MonoScriptSize += rec.Size()
				continue
			}
			a.other(f, id, p).AddObject(obj)
		}
	}
}

type refSets struct {
	others   map[*DataFromOtherAsset]struct{}
	internal map[*ExplicitAsset]struct{}
	external map[*ExplicitAsset]struct{}
}

func (a *assembler) linkReferences() {
	refs := make(map[*ExplicitAsset]*refSets)
	referencing := make(map[*ExplicitAsset]map[*ExplicitAsset]struct{})
	otherReferencing := make(map[*DataFromOtherAsset]map[*ExplicitAsset]struct{})

	setsFor := func(ea *ExplicitAsset) *refSets {
		s, ok := refs[ea]
		if !ok {
			s = &refSets{
				others:   make(map[*DataFromOtherAsset]struct{}),
				internal: make(map[*ExplicitAsset]struct{}),
				external: make(map[*ExplicitAsset]struct{}),
			}
			refs[ea] = s
		}
		return s
	}
	addReferencing := func(target, src *ExplicitAsset) {
		if referencing[target] == nil {
			referencing[target] = make(map[*ExplicitAsset]struct{})
		}
		referencing[target][src] = struct{}{}
	}

	for _, dep := range a.in.Results.ObjectDependencies {
		src, ok := a.explicit[dep.Object.GUID]
		if dep.Object.GUID == "" || !ok {
			continue
		}
		for _, ref := range dep.References {
			if target, ok := a.explicit[ref.GUID]; ok && ref.GUID != "" {
				if target == src {
					continue
				}
				if target.Bundle == src.Bundle {
					setsFor(src).internal[target] = struct{}{}
					addReferencing(target, src)
					continue
				}
				setsFor(src).external[target] = struct{}{}
				addReferencing(target, src)
				if src.Bundle.BundleDependency(target.Bundle) == nil {
					if err := a.in.Graph.AddEdge(src.Bundle.ID, target.Bundle.ID); err == nil {
						a.newEdges = true
					}
				}
				src.Bundle.UpdateBundleDependency(src, target)
				continue
			}

			if o, ok := a.others[otherKey{file: src.File, id: ref.AssetID()}]; ok {
				setsFor(src).others[o] = struct{}{}
				if otherReferencing[o] == nil {
					otherReferencing[o] = make(map[*ExplicitAsset]struct{})
				}
				otherReferencing[o][src] = struct{}{}
				continue
			}

			a.log.WithFields(logrus.Fields{
				"asset":     src.GUID,
				"reference": ref.AssetID().String(),
				"localId":   ref.LocalID,
			}).Debug("skipping unresolved reference")
		}
	}

	for ea, s := range refs {
		ea.InternalReferencedOtherAssets = sortedOthers(s.others)
		ea.InternalReferencedExplicitAssets = sortedExplicit(s.internal)
		ea.ExternallyReferencedAssets = sortedExplicit(s.external)
	}
	for ea, s := range referencing {
		ea.ReferencingAssets = sortedExplicit(s)
	}
	for o, s := range otherReferencing {
		o.ReferencingAssets = sortedExplicit(s)
	}
}

func sortedExplicit(set map[*ExplicitAsset]struct{}) []*ExplicitAsset {
	out := make([]*ExplicitAsset, 0, len(set))
	for ea := range set {
		out = append(out, ea)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

func sortedOthers(set map[*DataFromOtherAsset]struct{}) []*DataFromOtherAsset {
	out := make([]*DataFromOtherAsset, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return ident.LessAssetID(out[i].AssetID, out[j].AssetID) })
	return out
}

func (a *assembler) finish() *Layout {
	if a.newEdges {
		a.in.Graph.Recompute()
	}

	l := &Layout{Header: a.in.Header}
	for _, b := range a.bundles {
		for _, id := range a.in.Graph.Expanded(b.ID) {
			if dep, ok := a.bundles[id]; ok {
				b.ExpandedDependencies = append(b.ExpandedDependencies, dep)
			}
		}
		b.SortLinks()
		l.Bundles = append(l.Bundles, b)
	}
	sort.Slice(l.Bundles, func(i, j int) bool { return ident.Less(l.Bundles[i].ID, l.Bundles[j].ID) })
	return l
}
