package writedata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"bundlegraph/ident"
)

func sampleResults() *WriteResults {
	return &WriteResults{
		FileToBundle: map[string]ident.BundleKey{
			"CAB-a": "a.bundle",
			"CAB-b": "b.bundle",
			"CAB-c": "c.bundle",
		},
		AssetToFiles: map[string][]string{
			"hero":  {"CAB-a", "CAB-b", "CAB-c", "CAB-b"},
			"sword": {"CAB-b"},
		},
		FileToObjects: map[string][]ObjectRecord{
			"CAB-a": {{ObjectID: ObjectID{GUID: "hero", LocalID: 1}, SerializedSize: 10}},
		},
	}
}

func TestObjectID_AssetID(t *testing.T) {
	assert.Equal(t, ident.FromGUID("g"), ObjectID{GUID: "g", Path: "Assets/x"}.AssetID())
	assert.Equal(t, ident.FromPath("Resources/unity_builtin_extra"), ObjectID{Path: "Resources/unity_builtin_extra"}.AssetID())
}

func TestObjectID_IsTemp(t *testing.T) {
	assert.True(t, ObjectID{Path: TempBundleInfoPath}.IsTemp())
	assert.True(t, ObjectID{Path: "temp:/scene/0"}.IsTemp())
	assert.False(t, ObjectID{GUID: "g", Path: "temp:/x"}.IsTemp())
	assert.False(t, ObjectID{Path: "Resources/unity_builtin_extra"}.IsTemp())
}

func TestAssetBundles_OwnBundleFirst(t *testing.T) {
	w := sampleResults()
	reg := ident.NewRegistry()

	got, err := w.AssetBundles(reg)
	require.NoError(t, err)

	a, _ := reg.Lookup("a.bundle")
	b, _ := reg.Lookup("b.bundle")
	c, _ := reg.Lookup("c.bundle")

	assert.Equal(t, []ident.BundleID{a, b, c}, got[ident.FromGUID("hero")])
	assert.Equal(t, []ident.BundleID{b}, got[ident.FromGUID("sword")])
}

func TestAssetBundles_UnmappedFile(t *testing.T) {
	w := sampleResults()
	w.AssetToFiles["ghost"] = []string{"CAB-missing"}

	_, err := w.AssetBundles(ident.NewRegistry())
	assert.ErrorIs(t, err, ErrUnmappedFile)
	assert.ErrorIs(t, w.Validate(), ErrUnmappedFile)
}

func TestValidate(t *testing.T) {
	w := sampleResults()
	require.NoError(t, w.Validate())

	w.FileToObjects["CAB-x"] = nil
	assert.ErrorIs(t, w.Validate(), ErrUnmappedFile)
}

func TestWriteResults_EncodingShapes(t *testing.T) {
	size := uint64(42)
	w := sampleResults()
	w.BundleFiles = map[ident.BundleKey]BundleFile{"a.bundle": {Size: &size}}

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"localId":1`)
	assert.Contains(t, string(data), `"guid":"hero"`)

	var fromYAML WriteResults
	require.NoError(t, yaml.Unmarshal([]byte(`
fileToBundle:
  CAB-a: a.bundle
assetToFiles:
  hero: [CAB-a]
fileToObjects:
  CAB-a:
    - guid: hero
      localId: 7
      serializedSize: 100
      streamedSize: 20
`), &fromYAML))
	rec := fromYAML.FileToObjects["CAB-a"][0]
	assert.Equal(t, int64(7), rec.LocalID)
	assert.Equal(t, uint64(120), rec.Size())
}

func TestBundleNames_Sorted(t *testing.T) {
	assert.Equal(t, []ident.BundleKey{"a.bundle", "b.bundle", "c.bundle"}, sampleResults().BundleNames())
}
