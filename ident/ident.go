// Package ident provides the small identifier types shared by every stage of
// the bundle pipeline: bundle ids, group and bundle keys, and asset ids.
package ident

import (
	"fmt"
	"sort"
	"strings"
)

// BundleID identifies one physical output bundle within a single build.
type BundleID int

// Reserved bundle ids. User bundles are numbered from firstUserBundle upward.
const (
	InvalidBundle        BundleID = 0
	BuiltInShadersBundle BundleID = 1
	MonoScriptBundle     BundleID = 2

	firstUserBundle BundleID = 3
)

// Names of the engine-generated bundles.
const (
	BuiltInShadersBundleName = "unitybuiltinshaders.bundle"
	MonoScriptBundleName     = "monoscripts.bundle"
)

// IsBuiltIn reports whether id is one of the engine-generated bundles.
func (id BundleID) IsBuiltIn() bool {
	return id == BuiltInShadersBundle || id == MonoScriptBundle
}

// Less orders built-in bundles before user bundles, then by numeric id.
func Less(a, b BundleID) bool {
	if a.IsBuiltIn() != b.IsBuiltIn() {
		return a.IsBuiltIn()
	}
	return a < b
}

// SortBundleIDs sorts ids in place using Less.
func SortBundleIDs(ids []BundleID) {
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
}

// BundleKey is the logical file name of a bundle.
type BundleKey string

// GroupKey is the name of a logical asset group.
type GroupKey string

// AssetID identifies an asset either by content GUID or, for engine built-ins
// that have no GUID, by raw file path. Two ids are equal only when both the
// value and the path flag match, so AssetID is safe to use as a map key.
type AssetID struct {
	Value  string `json:"value"`
	IsPath bool   `json:"isPath,omitempty"`
}

const pathPrefix = "path:"

// FromGUID returns the id of a GUID-tracked asset.
func FromGUID(guid string) AssetID {
	return AssetID{Value: guid}
}

// FromPath returns the id of an asset known only by its file path.
func FromPath(path string) AssetID {
	return AssetID{Value: path, IsPath: true}
}

// IsZero reports whether the id is empty.
func (a AssetID) IsZero() bool {
	return a.Value == ""
}

// String returns the GUID, or "path:" followed by the path.
func (a AssetID) String() string {
	if a.IsPath {
		return pathPrefix + a.Value
	}
	return a.Value
}

// ParseAssetID reverses String.
func ParseAssetID(s string) AssetID {
	if strings.HasPrefix(s, pathPrefix) {
		return FromPath(strings.TrimPrefix(s, pathPrefix))
	}
	return FromGUID(s)
}

// MarshalText implements encoding.TextMarshaler so ids can key JSON maps.
func (a AssetID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AssetID) UnmarshalText(text []byte) error {
	*a = ParseAssetID(string(text))
	return nil
}

// LessAssetID orders GUID ids before path ids, then lexically.
func LessAssetID(a, b AssetID) bool {
	if a.IsPath != b.IsPath {
		return !a.IsPath
	}
	return a.Value < b.Value
}

// Registry assigns BundleIDs to bundle names. It is append-only: ids are
// never removed or reused for the lifetime of a build.
type Registry struct {
	byName map[BundleKey]BundleID
	names  map[BundleID]BundleKey
	next   BundleID
}

// NewRegistry returns a registry with the built-in bundles pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[BundleKey]BundleID),
		names:  make(map[BundleID]BundleKey),
		next:   firstUserBundle,
	}
	r.set(BuiltInShadersBundleName, BuiltInShadersBundle)
	r.set(MonoScriptBundleName, MonoScriptBundle)
	return r
}

func (r *Registry) set(name BundleKey, id BundleID) {
	r.byName[name] = id
	r.names[id] = name
}

// Register returns the id for name, assigning the next free id the first time
// a name is seen.
func (r *Registry) Register(name BundleKey) BundleID {
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.set(name, id)
	return id
}

// Lookup returns the id registered for name.
func (r *Registry) Lookup(name BundleKey) (BundleID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Name returns the bundle name for id.
func (r *Registry) Name(id BundleID) BundleKey {
	if name, ok := r.names[id]; ok {
		return name
	}
	return BundleKey(fmt.Sprintf("<bundle %d>", int(id)))
}

// IDs returns every registered id in Less order.
func (r *Registry) IDs() []BundleID {
	ids := make([]BundleID, 0, len(r.names))
	for id := range r.names {
		ids = append(ids, id)
	}
	SortBundleIDs(ids)
	return ids
}

// Len returns the number of registered bundles including built-ins.
func (r *Registry) Len() int {
	return len(r.names)
}
