package report

import (
	"fmt"

	"bundlegraph/ident"
	"bundlegraph/layout"
	"bundlegraph/writedata"
)

// Document is the serialized body of a report. The pointer graph of a layout
// is flattened into names: bundles by name, files by write-result filename,
// explicit assets by GUID and implicit assets by asset id within their file.
type Document struct {
	Bundles    []BundleRecord    `json:"bundles"`
	Duplicates []DuplicateRecord `json:"duplicates,omitempty"`
}

type BundleRecord struct {
	ID               ident.BundleID     `json:"id"`
	Name             ident.BundleKey    `json:"name"`
	Group            ident.GroupKey     `json:"group,omitempty"`
	FileSize         uint64             `json:"fileSize"`
	UncompressedSize uint64             `json:"uncompressedSize"`
	Files            []FileRecord       `json:"files,omitempty"`
	Dependencies     []DependencyRecord `json:"dependencies,omitempty"`
	Expanded         []ident.BundleKey  `json:"expandedDependencies,omitempty"`
}

type DependencyRecord struct {
	To                 ident.BundleKey `json:"to"`
	Efficiency         float64         `json:"efficiency"`
	ExpandedEfficiency float64         `json:"expandedEfficiency"`
	Assets             []AssetLink     `json:"assets,omitempty"`
}

type AssetLink struct {
	Root       string `json:"root"`
	Dependency string `json:"dependency"`
}

type FileRecord struct {
	Name                 string              `json:"name"`
	WriteResultFilename  string              `json:"writeResultFilename"`
	SubFiles             []writedata.SubFile `json:"subFiles,omitempty"`
	BundleObjectInfoSize uint64              `json:"bundleObjectInfoSize,omitempty"`
	PreloadInfoSize      uint64              `json:"preloadInfoSize,omitempty"`
	MonoScriptCount      int                 `json:"monoScriptCount,omitempty"`
	MonoScriptSize       uint64              `json:"monoScriptSize,omitempty"`
	UncompressedSize     uint64              `json:"uncompressedSize"`
	Assets               []ExplicitRecord    `json:"assets,omitempty"`
	OtherAssets          []OtherRecord       `json:"otherAssets,omitempty"`
}

type ExplicitRecord struct {
	GUID                 string          `json:"guid"`
	AssetPath            string          `json:"assetPath,omitempty"`
	AddressableName      string          `json:"addressableName,omitempty"`
	Group                ident.GroupKey  `json:"group,omitempty"`
	MainAssetType        string          `json:"mainAssetType,omitempty"`
	Objects              []layout.Object `json:"objects,omitempty"`
	InternalOther        []ident.AssetID `json:"internalReferencedOtherAssets,omitempty"`
	InternalExplicit     []string        `json:"internalReferencedExplicitAssets,omitempty"`
	ExternallyReferenced []string        `json:"externallyReferencedAssets,omitempty"`
	Referencing          []string        `json:"referencingAssets,omitempty"`
}

type OtherRecord struct {
	AssetID       ident.AssetID   `json:"assetId"`
	AssetPath     string          `json:"assetPath,omitempty"`
	MainAssetType string          `json:"mainAssetType,omitempty"`
	Objects       []layout.Object `json:"objects,omitempty"`
	Referencing   []string        `json:"referencingAssets,omitempty"`
}

type DuplicateRecord struct {
	AssetID ident.AssetID           `json:"assetId"`
	Objects []DuplicateObjectRecord `json:"objects"`
}

type DuplicateObjectRecord struct {
	LocalID int64    `json:"localId"`
	Files   []string `json:"files"`
}

func guids(assets []*layout.ExplicitAsset) []string {
	if len(assets) == 0 {
		return nil
	}
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.GUID
	}
	return out
}

// EncodeDocument flattens l into a Document.
func EncodeDocument(l *layout.Layout) *Document {
	doc := &Document{}
	for _, b := range l.Bundles {
		br := BundleRecord{
			ID:               b.ID,
			Name:             b.Name,
			Group:            b.Group,
			FileSize:         b.FileSize,
			UncompressedSize: b.UncompressedSize,
		}
		for _, d := range b.BundleDependencies {
			dr := DependencyRecord{
				To:                 d.DependencyBundle.Name,
				Efficiency:         d.Efficiency,
				ExpandedEfficiency: d.ExpandedEfficiency,
			}
			for _, ad := range d.AssetDependencies {
				dr.Assets = append(dr.Assets, AssetLink{Root: ad.RootAsset.GUID, Dependency: ad.DependencyAsset.GUID})
			}
			br.Dependencies = append(br.Dependencies, dr)
		}
		for _, e := range b.ExpandedDependencies {
			br.Expanded = append(br.Expanded, e.Name)
		}

		for _, f := range b.Files {
			fr := FileRecord{
				Name:                 f.Name,
				WriteResultFilename:  f.WriteResultFilename,
				SubFiles:             f.SubFiles,
				BundleObjectInfoSize: f.BundleObjectInfoSize,
				PreloadInfoSize:      f.PreloadInfoSize,
				MonoScriptCount:      f.MonoScriptCount,
				MonoScriptSize:       f.MonoScriptSize,
				UncompressedSize:     f.UncompressedSize,
			}
			for _, ea := range f.Assets {
				er := ExplicitRecord{
					GUID:                 ea.GUID,
					AssetPath:            ea.AssetPath,
					AddressableName:      ea.AddressableName,
					Group:                ea.Group,
					MainAssetType:        ea.MainAssetType,
					Objects:              ea.Objects,
					InternalExplicit:     guids(ea.InternalReferencedExplicitAssets),
					ExternallyReferenced: guids(ea.ExternallyReferencedAssets),
					Referencing:          guids(ea.ReferencingAssets),
				}
				for _, o := range ea.InternalReferencedOtherAssets {
					er.InternalOther = append(er.InternalOther, o.AssetID)
				}
				fr.Assets = append(fr.Assets, er)
			}
			for _, o := range f.OtherAssets {
				fr.OtherAssets = append(fr.OtherAssets, OtherRecord{
					AssetID:       o.AssetID,
					AssetPath:     o.AssetPath,
					MainAssetType: o.MainAssetType,
					Objects:       o.Objects,
					Referencing:   guids(o.ReferencingAssets),
				})
			}
			br.Files = append(br.Files, fr)
		}
		doc.Bundles = append(doc.Bundles, br)
	}

	for _, d := range l.Duplicates {
		dr := DuplicateRecord{AssetID: d.AssetID}
		for _, od := range d.Objects {
			or := DuplicateObjectRecord{LocalID: od.LocalID}
			for _, f := range od.Files {
				or.Files = append(or.Files, f.WriteResultFilename)
			}
			dr.Objects = append(dr.Objects, or)
		}
		doc.Duplicates = append(doc.Duplicates, dr)
	}
	return doc
}

type otherKey struct {
	file *layout.File
	id   ident.AssetID
}

type decoder struct {
	bundles  map[ident.BundleKey]*layout.Bundle
	files    map[string]*layout.File
	explicit map[string]*layout.ExplicitAsset
	others   map[otherKey]*layout.DataFromOtherAsset
}

func (d *decoder) bundle(name ident.BundleKey) (*layout.Bundle, error) {
	b, ok := d.bundles[name]
	if !ok {
		return nil, fmt.Errorf("decoding report: unknown bundle %q", name)
	}
	return b, nil
}

func (d *decoder) asset(guid string) (*layout.ExplicitAsset, error) {
	ea, ok := d.explicit[guid]
	if !ok {
		return nil, fmt.Errorf("decoding report: unknown asset %q", guid)
	}
	return ea, nil
}

func (d *decoder) assets(ids []string) ([]*layout.ExplicitAsset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]*layout.ExplicitAsset, len(ids))
	for i, id := range ids {
		ea, err := d.asset(id)
		if err != nil {
			return nil, err
		}
		out[i] = ea
	}
	return out, nil
}

// DecodeDocument rebuilds the layout pointer graph from doc.
func DecodeDocument(h layout.Header, doc *Document) (*layout.Layout, error) {
	d := &decoder{
		bundles:  make(map[ident.BundleKey]*layout.Bundle),
		files:    make(map[string]*layout.File),
		explicit: make(map[string]*layout.ExplicitAsset),
		others:   make(map[otherKey]*layout.DataFromOtherAsset),
	}
	l := &layout.Layout{Header: h}

	// nodes
	for _, br := range doc.Bundles {
		b := layout.NewBundle(br.ID, br.Name)
		b.Group = br.Group
		b.FileSize = br.FileSize
		b.UncompressedSize = br.UncompressedSize
		for _, fr := range br.Files {
			f := &layout.File{
				Name:                 fr.Name,
				WriteResultFilename:  fr.WriteResultFilename,
				Bundle:               b,
				SubFiles:             fr.SubFiles,
				BundleObjectInfoSize: fr.BundleObjectInfoSize,
				PreloadInfoSize:      fr.PreloadInfoSize,
				MonoScriptCount:      fr.MonoScriptCount,
				MonoScriptSize:       fr.MonoScriptSize,
				UncompressedSize:     fr.UncompressedSize,
			}
			for _, er := range fr.Assets {
				ea := &layout.ExplicitAsset{
					GUID:            er.GUID,
					AssetPath:       er.AssetPath,
					AddressableName: er.AddressableName,
					Group:           er.Group,
					MainAssetType:   er.MainAssetType,
					File:            f,
					Bundle:          b,
				}
				for _, o := range er.Objects {
					ea.AddObject(o)
				}
				f.Assets = append(f.Assets, ea)
				d.explicit[ea.GUID] = ea
			}
			for _, or := range fr.OtherAssets {
				o := &layout.DataFromOtherAsset{
					AssetID:       or.AssetID,
					AssetPath:     or.AssetPath,
					MainAssetType: or.MainAssetType,
					File:          f,
				}
				for _, obj := range or.Objects {
					o.AddObject(obj)
				}
				f.OtherAssets = append(f.OtherAssets, o)
				d.others[otherKey{file: f, id: o.AssetID}] = o
			}
			b.Files = append(b.Files, f)
			d.files[f.WriteResultFilename] = f
		}
		l.Bundles = append(l.Bundles, b)
		d.bundles[b.Name] = b
	}

	// links
	for i, br := range doc.Bundles {
		b := l.Bundles[i]
		for _, dr := range br.Dependencies {
			to, err := d.bundle(dr.To)
			if err != nil {
				return nil, err
			}
			dep := b.LinkDependency(to)
			if dep == nil {
				return nil, fmt.Errorf("decoding report: bundle %q depends on itself", b.Name)
			}
			for _, link := range dr.Assets {
				root, err := d.asset(link.Root)
				if err != nil {
					return nil, err
				}
				target, err := d.asset(link.Dependency)
				if err != nil {
					return nil, err
				}
				dep.CreateAssetDependency(root, target)
			}
			dep.Efficiency = dr.Efficiency
			dep.ExpandedEfficiency = dr.ExpandedEfficiency
		}
		for _, name := range br.Expanded {
			e, err := d.bundle(name)
			if err != nil {
				return nil, err
			}
			b.ExpandedDependencies = append(b.ExpandedDependencies, e)
		}

		for j, fr := range br.Files {
			f := b.Files[j]
			for k, er := range fr.Assets {
				ea := f.Assets[k]
				var err error
				if ea.InternalReferencedExplicitAssets, err = d.assets(er.InternalExplicit); err != nil {
					return nil, err
				}
				if ea.ExternallyReferencedAssets, err = d.assets(er.ExternallyReferenced); err != nil {
					return nil, err
				}
				if ea.ReferencingAssets, err = d.assets(er.Referencing); err != nil {
					return nil, err
				}
				for _, id := range er.InternalOther {
					o, ok := d.others[otherKey{file: f, id: id}]
					if !ok {
						return nil, fmt.Errorf("decoding report: asset %s references unknown implicit asset %s", ea.GUID, id)
					}
					ea.InternalReferencedOtherAssets = append(ea.InternalReferencedOtherAssets, o)
				}
			}
			for k, or := range fr.OtherAssets {
				refs, err := d.assets(or.Referencing)
				if err != nil {
					return nil, err
				}
				f.OtherAssets[k].ReferencingAssets = refs
			}
		}
	}
	for _, b := range l.Bundles {
		b.SortLinks()
	}

	for _, dr := range doc.Duplicates {
		dup := &layout.AssetDuplicationData{AssetID: dr.AssetID}
		for _, or := range dr.Objects {
			od := layout.ObjectDuplicationData{LocalID: or.LocalID}
			for _, name := range or.Files {
				f, ok := d.files[name]
				if !ok {
					return nil, fmt.Errorf("decoding report: unknown file %q", name)
				}
				od.Files = append(od.Files, f)
			}
			dup.Objects = append(dup.Objects, od)
		}
		l.Duplicates = append(l.Duplicates, dup)
	}
	return l, nil
}
