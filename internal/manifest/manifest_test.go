package manifest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlegraph/entry"
	"bundlegraph/ident"
	"bundlegraph/layout"
	"bundlegraph/plan"
	"bundlegraph/rules"
	"bundlegraph/session"
)

func load(t *testing.T) *Manifest {
	t.Helper()
	m, err := Load(filepath.Join("testdata", "project.yaml"))
	require.NoError(t, err)
	return m
}

func TestLoad(t *testing.T) {
	m := load(t)
	assert.Equal(t, "Android", m.Target)
	assert.Len(t, m.Assets, 6)
	require.NotNil(t, m.WriteResults)
	assert.NoError(t, m.WriteResults.Validate())
	assert.Equal(t, "Assets/Chars/Hero.prefab", m.GUIDToPath("a1"))
	assert.Equal(t, "a4", m.PathToGUID("Assets/Shared/Tex.png"))
	assert.Equal(t, "Texture2D", m.MainAssetType("Assets/Shared/Tex.png"))
	assert.Empty(t, m.GUIDToPath("missing"))
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("assets:\n  - guid: x\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("assets:\n  - {guid: x, path: a}\n  - {guid: x, path: b}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("groups: [{name: G, packing: sideways}]\n"))
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	m := load(t)
	s, err := m.Settings()
	require.NoError(t, err)

	require.Len(t, s.Groups(), 3)
	e, g, ok := s.FindEntry("a1")
	require.True(t, ok)
	assert.Equal(t, ident.GroupKey("Chars"), g.Key)
	assert.Equal(t, "Hero", e.Address)
	assert.Equal(t, "Assets/Chars/Hero.prefab", e.Path)
}

func TestSettings_RulesFile(t *testing.T) {
	m := load(t)
	m.RulesFile = "rules.yaml"
	s, err := m.Settings()
	require.NoError(t, err)

	_, g, ok := s.FindEntry("a4")
	require.True(t, ok)
	assert.Equal(t, ident.GroupKey("Shared"), g.Key)
	assert.Equal(t, entry.PackSeparately, g.Packing)
	_, _, ok = s.FindEntry("a5")
	assert.False(t, ok)
}

func TestDependencies(t *testing.T) {
	m := load(t)
	assert.Equal(t, []ident.AssetID{ident.FromGUID("a3"), ident.FromGUID("a4")}, m.Dependencies(ident.FromGUID("a1")))
	assert.Equal(t,
		[]ident.AssetID{ident.FromGUID("a1"), ident.FromGUID("a3"), ident.FromGUID("a4")},
		m.Dependencies(ident.FromGUID("a6")))
	assert.Equal(t, []ident.AssetID{ident.FromGUID("a1"), ident.FromGUID("a3"), ident.FromGUID("a4")},
		m.Dependencies(ident.FromPath("Assets/Scenes/Level.unity")))
	assert.Nil(t, m.Dependencies(ident.FromGUID("nope")))

	assert.Equal(t,
		[]string{"Assets/Scenes/Level.unity", "Assets/Chars/Hero.prefab"},
		m.PathDependencies("Assets/Scenes/Level.unity", false))
	assert.Equal(t,
		[]string{"Assets/Scenes/Level.unity", "Assets/Chars/Hero.prefab", "Assets/Weapons/Sword.prefab", "Assets/Shared/Tex.png"},
		m.RuleAssets().Dependencies("Assets/Scenes/Level.unity", true))
	assert.Equal(t, []string{"Assets/Resources/Boss.prefab"}, m.ResourcePaths())
}

func TestSize(t *testing.T) {
	m := load(t)
	n, err := m.Size("bundles/scenes.bundle")
	require.NoError(t, err)
	assert.Equal(t, uint64(64), n)

	_, err = m.Size("bundles/missing.bundle")
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	m := load(t)
	s, err := m.Settings()
	require.NoError(t, err)
	p, err := plan.PackedMode.Resolve(s, plan.Options{})
	require.NoError(t, err)

	res, code, err := m.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, session.Success, code)
	assert.Same(t, m.WriteResults, res)

	m.ReturnCode = session.UnsavedChanges
	_, code, err = m.Build(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, session.UnsavedChanges, code)

	m.ReturnCode = session.Success
	m.WriteResults = nil
	_, code, _ = m.Build(context.Background(), p)
	assert.Equal(t, session.SuccessNotRun, code)
}

func TestBuild_MissingPlannedAsset(t *testing.T) {
	m := load(t)
	s, err := m.Settings()
	require.NoError(t, err)
	require.NoError(t, s.AddEntry("Weapons", &entry.AssetEntry{GUID: "a4", Address: "Tex"}))
	p, err := plan.PackedMode.Resolve(s, plan.Options{})
	require.NoError(t, err)

	_, code, err := m.Build(context.Background(), p)
	assert.Error(t, err)
	assert.Equal(t, session.MissingRequiredObjects, code)
}

func runSession(t *testing.T, m *Manifest, s *entry.Settings) *layout.Layout {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sess := session.New(s, m)
	sess.AssetDatabase = m
	sess.Prober = m
	sess.Logger = logger
	res, err := sess.Run(context.Background(), m.Target)
	require.NoError(t, err)
	require.Equal(t, session.StatusSuccess, res.Status)
	return res.Layout
}

func TestSessionEndToEnd(t *testing.T) {
	m := load(t)
	s, err := m.Settings()
	require.NoError(t, err)
	l := runSession(t, m, s)

	chars, ok := l.Bundle("chars.bundle")
	require.True(t, ok)
	weapons, _ := l.Bundle("weapons.bundle")
	scenes, _ := l.Bundle("scenes.bundle")
	assert.Equal(t, uint64(64), scenes.FileSize)

	d := chars.BundleDependency(weapons)
	require.NotNil(t, d)
	assert.InDelta(t, 0.3, d.Efficiency, 1e-9)

	sd := scenes.BundleDependency(chars)
	require.NotNil(t, sd)
	assert.InDelta(t, 0.25, sd.Efficiency, 1e-9)
	assert.InDelta(t, 400.0/1400.0, sd.ExpandedEfficiency, 1e-9)

	// Level reaches Sword only through Hero, so nothing in the scene bundle
	// references weapons directly.
	sw := scenes.BundleDependency(weapons)
	require.NotNil(t, sw)
	assert.Zero(t, sw.Efficiency)

	require.Len(t, l.Duplicates, 1)
	assert.Equal(t, ident.FromGUID("a4"), l.Duplicates[0].AssetID)

	for _, ea := range chars.Files[0].Assets {
		assert.Equal(t, "GameObject", ea.MainAssetType, ea.AssetPath)
	}
}

const transitiveManifest = `
target: Android
assets:
  - {guid: x, path: Assets/X.prefab, type: GameObject, dependencies: [y]}
  - {guid: y, path: Assets/Y.mat, type: Material, dependencies: [Assets/Z.prefab]}
  - {guid: z, path: Assets/Z.prefab, type: GameObject}
groups:
  - {name: G1, packing: together, entries: [{guid: x, address: X}]}
  - {name: G2, packing: together, entries: [{guid: z, address: Z}]}
writeResults:
  fileToBundle: {CAB-g1: g1.bundle, CAB-g2: g2.bundle}
  assetToFiles: {x: [CAB-g1], z: [CAB-g2]}
  fileToObjects:
    CAB-g1:
      - {guid: x, localId: 1, serializedSize: 10}
      - {guid: y, localId: 1, serializedSize: 5}
    CAB-g2:
      - {guid: z, localId: 1, serializedSize: 20}
  bundleFiles:
    g1.bundle: {size: 15}
    g2.bundle: {size: 20}
`

func TestSessionEndToEnd_DependencyThroughImplicitAsset(t *testing.T) {
	m, err := Parse([]byte(transitiveManifest))
	require.NoError(t, err)
	assert.Equal(t, []ident.AssetID{ident.FromGUID("y"), ident.FromGUID("z")}, m.Dependencies(ident.FromGUID("x")))

	s, err := m.Settings()
	require.NoError(t, err)
	l := runSession(t, m, s)

	g1, ok := l.Bundle("g1.bundle")
	require.True(t, ok)
	g2, ok := l.Bundle("g2.bundle")
	require.True(t, ok)
	assert.Equal(t, []*layout.Bundle{g2}, g1.Dependencies)
	assert.Equal(t, []*layout.Bundle{g2}, g1.ExpandedDependencies)
	assert.Equal(t, []*layout.Bundle{g1}, g2.DependentBundles)
	require.NotNil(t, g1.BundleDependency(g2))
}

func TestRulesEndToEnd(t *testing.T) {
	m := load(t)
	s, err := m.Settings()
	require.NoError(t, err)

	ctx := &rules.Context{
		Settings:      s,
		Assets:        m.RuleAssets(),
		Scenes:        m,
		BuildScenes:   m.Scenes,
		ResourcePaths: m.ResourcePaths(),
		Build: func() (*layout.Layout, error) {
			return runSession(t, m, s), nil
		},
	}
	reg := rules.DefaultRegistry()
	require.NoError(t, reg.RunAll(ctx))

	res, _ := reg.Rule(rules.CheckResourcesDupeDependenciesName)
	assert.Equal(t, []rules.Result{
		{Name: "Assets/Resources/Boss.prefab:chars.bundle:Assets/Shared/Tex.png", Severity: rules.Warning},
		{Name: "Assets/Resources/Boss.prefab:weapons.bundle:Assets/Shared/Tex.png", Severity: rules.Warning},
	}, res.Results())

	dup, _ := reg.Rule(rules.CheckBundleDupeDependenciesName)
	fixable, ok := dup.(rules.Fixable)
	require.True(t, ok)
	require.NoError(t, fixable.Fix(ctx))

	_, g, ok := s.FindEntry("a4")
	require.True(t, ok)
	assert.Equal(t, rules.IsolationGroup, g.Key)

	m.SetGroups(s)
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, m.Save(path))
	reloaded, err := Load(path)
	require.NoError(t, err)
	rs, err := reloaded.Settings()
	require.NoError(t, err)
	_, g, ok = rs.FindEntry("a4")
	require.True(t, ok)
	assert.Equal(t, rules.IsolationGroup, g.Key)
	assert.Equal(t, entry.PackSeparately, g.Packing)
}

func TestUnsavedScenes(t *testing.T) {
	m := load(t)
	m.Unsaved = true
	s, err := m.Settings()
	require.NoError(t, err)

	r := rules.NewCheckSceneDupeDependencies()
	require.NoError(t, r.Refresh(&rules.Context{Settings: s, Scenes: m}))
	assert.Equal(t, rules.Failed, r.State())
	assert.ErrorIs(t, r.Err(), rules.ErrUnsavedScenes)
}
