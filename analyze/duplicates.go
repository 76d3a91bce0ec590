package analyze

import (
	"sort"

	"bundlegraph/ident"
	"bundlegraph/layout"
)

// FindDuplicates reports implicit assets whose objects were written into more
// than one file. Only objects present in at least two files are kept, and
// assets left with no such object are dropped. The result is also stored on
// l.Duplicates.
func FindDuplicates(l *layout.Layout) []*layout.AssetDuplicationData {
	occurrences := make(map[ident.AssetID][]*layout.DataFromOtherAsset)
	for _, o := range l.OtherAssets() {
		occurrences[o.AssetID] = append(occurrences[o.AssetID], o)
	}

	ids := make([]ident.AssetID, 0, len(occurrences))
	for id, occ := range occurrences {
		if distinctFiles(occ) > 1 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ident.LessAssetID(ids[i], ids[j]) })

	var out []*layout.AssetDuplicationData
	for _, id := range ids {
		byLocal := make(map[int64]map[*layout.File]struct{})
		for _, o := range occurrences[id] {
			for _, obj := range o.Objects {
				files, ok := byLocal[obj.LocalID]
				if !ok {
					files = make(map[*layout.File]struct{})
					byLocal[obj.LocalID] = files
				}
				files[o.File] = struct{}{}
			}
		}

		dup := &layout.AssetDuplicationData{AssetID: id}
		for local, files := range byLocal {
			if len(files) < 2 {
				continue
			}
			od := layout.ObjectDuplicationData{LocalID: local}
			for f := range files {
				od.Files = append(od.Files, f)
			}
			sort.Slice(od.Files, func(i, j int) bool { return od.Files[i].Name < od.Files[j].Name })
			dup.Objects = append(dup.Objects, od)
		}
		if len(dup.Objects) == 0 {
			continue
		}
		sort.Slice(dup.Objects, func(i, j int) bool { return dup.Objects[i].LocalID < dup.Objects[j].LocalID })
		out = append(out, dup)
	}

	l.Duplicates = out
	return out
}

func distinctFiles(occ []*layout.DataFromOtherAsset) int {
	seen := make(map[*layout.File]struct{}, len(occ))
	for _, o := range occ {
		seen[o.File] = struct{}{}
	}
	return len(seen)
}

// DuplicatedBundles returns the bundles holding a copy of a duplicated asset.
func DuplicatedBundles(d *layout.AssetDuplicationData) []*layout.Bundle {
	seen := make(map[*layout.Bundle]struct{})
	var out []*layout.Bundle
	for _, od := range d.Objects {
		for _, f := range od.Files {
			if _, ok := seen[f.Bundle]; ok {
				continue
			}
			seen[f.Bundle] = struct{}{}
			out = append(out, f.Bundle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return ident.Less(out[i].ID, out[j].ID) })
	return out
}
