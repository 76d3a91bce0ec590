// Package writedata describes what the content build backend hands back after
// writing bundles: which files went into which bundle, which files each asset
// landed in, the serialized objects of every file, and object references.
package writedata

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bundlegraph/ident"
)

// Synthetic object paths written by the backend.
const (
	TempPrefix         = "temp:/"
	TempBundleInfoPath = "temp:/assetbundle"
	TempPreloadPath    = "temp:/preloaddata"
)

// ErrUnmappedFile is returned when a file has no owning bundle.
var ErrUnmappedFile = errors.New("file has no bundle")

// ObjectID identifies one serialized object. GUID is empty for built-in
// resources and synthetic temp objects, which are identified by Path.
type ObjectID struct {
	GUID    string `json:"guid,omitempty" yaml:"guid,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	LocalID int64  `json:"localId" yaml:"localId"`
}

// AssetID returns the id of the asset owning the object.
func (o ObjectID) AssetID() ident.AssetID {
	if o.GUID != "" {
		return ident.FromGUID(o.GUID)
	}
	return ident.FromPath(o.Path)
}

// IsTemp reports whether the object is a synthetic temp object.
func (o ObjectID) IsTemp() bool {
	return o.GUID == "" && strings.HasPrefix(o.Path, TempPrefix)
}

// ObjectRecord is an object written into a file along with its byte sizes.
type ObjectRecord struct {
	ObjectID       `yaml:",inline"`
	SerializedSize uint64 `json:"serializedSize" yaml:"serializedSize"`
	StreamedSize   uint64 `json:"streamedSize,omitempty" yaml:"streamedSize,omitempty"`
}

// Size returns serialized plus streamed bytes.
func (r ObjectRecord) Size() uint64 {
	return r.SerializedSize + r.StreamedSize
}

// SubFile is one of the raw files that make up a serialized file.
type SubFile struct {
	Name       string `json:"name" yaml:"name"`
	Size       uint64 `json:"size" yaml:"size"`
	Serialized bool   `json:"serialized,omitempty" yaml:"serialized,omitempty"`
}

// ObjectDependency lists the objects referenced by one object.
type ObjectDependency struct {
	Object     ObjectID   `json:"object" yaml:"object"`
	References []ObjectID `json:"references" yaml:"references"`
}

// BundleFile locates a written bundle. Size, when set, wins over probing Path.
type BundleFile struct {
	Path string  `json:"path,omitempty" yaml:"path,omitempty"`
	Size *uint64 `json:"size,omitempty" yaml:"size,omitempty"`
}

// WriteResults is the full write output of one build.
type WriteResults struct {
	FileToBundle       map[string]ident.BundleKey     `json:"fileToBundle" yaml:"fileToBundle"`
	AssetToFiles       map[string][]string            `json:"assetToFiles" yaml:"assetToFiles"`
	FileToObjects      map[string][]ObjectRecord      `json:"fileToObjects" yaml:"fileToObjects"`
	ObjectDependencies []ObjectDependency             `json:"objectDependencies,omitempty" yaml:"objectDependencies,omitempty"`
	FileSubFiles       map[string][]SubFile           `json:"fileSubFiles,omitempty" yaml:"fileSubFiles,omitempty"`
	BundleFiles        map[ident.BundleKey]BundleFile `json:"bundleFiles,omitempty" yaml:"bundleFiles,omitempty"`
}

// Validate checks that every referenced file has an owning bundle.
func (w *WriteResults) Validate() error {
	for guid, files := range w.AssetToFiles {
		if len(files) == 0 {
			return fmt.Errorf("asset %s: no files: %w", guid, ErrUnmappedFile)
		}
		for _, f := range files {
			if _, ok := w.FileToBundle[f]; !ok {
				return fmt.Errorf("asset %s: file %s: %w", guid, f, ErrUnmappedFile)
			}
		}
	}
	for f := range w.FileToObjects {
		if _, ok := w.FileToBundle[f]; !ok {
			return fmt.Errorf("file %s: %w", f, ErrUnmappedFile)
		}
	}
	return nil
}

// Files returns every output file sorted by name.
func (w *WriteResults) Files() []string {
	files := make([]string, 0, len(w.FileToBundle))
	for f := range w.FileToBundle {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// BundleNames returns every bundle named by FileToBundle, sorted.
func (w *WriteResults) BundleNames() []ident.BundleKey {
	seen := make(map[ident.BundleKey]struct{})
	for _, b := range w.FileToBundle {
		seen[b] = struct{}{}
	}
	names := make([]ident.BundleKey, 0, len(seen))
	for b := range seen {
		names = append(names, b)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// AssetBundles maps every written asset to its bundles: the bundle of its
// first file, then the bundles of the remaining files, without repeats.
func (w *WriteResults) AssetBundles(reg *ident.Registry) (map[ident.AssetID][]ident.BundleID, error) {
	for _, name := range w.BundleNames() {
		reg.Register(name)
	}

	out := make(map[ident.AssetID][]ident.BundleID, len(w.AssetToFiles))
	for guid, files := range w.AssetToFiles {
		ids := make([]ident.BundleID, 0, len(files))
		seen := make(map[ident.BundleID]struct{}, len(files))
		for _, f := range files {
			name, ok := w.FileToBundle[f]
			if !ok {
				return nil, fmt.Errorf("asset %s: file %s: %w", guid, f, ErrUnmappedFile)
			}
			id := reg.Register(name)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("asset %s: no files: %w", guid, ErrUnmappedFile)
		}
		out[ident.FromGUID(guid)] = ids
	}
	return out, nil
}
