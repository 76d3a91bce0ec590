package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlegraph/entry"
	"bundlegraph/ident"
)

func testSettings(t *testing.T) *entry.Settings {
	t.Helper()
	s := entry.NewSettings()

	_, err := s.CreateGroup("Characters", entry.PackTogether)
	require.NoError(t, err)
	_, err = s.CreateGroup("UI Screens", entry.PackSeparately)
	require.NoError(t, err)
	_, err = s.CreateGroup("Audio", entry.PackTogetherByLabel)
	require.NoError(t, err)
	disabled, err := s.CreateGroup("Disabled", entry.PackTogether)
	require.NoError(t, err)
	disabled.IncludeInBuild = false

	require.NoError(t, s.AddEntry("Characters", &entry.AssetEntry{GUID: "hero", Address: "Hero"}))
	require.NoError(t, s.AddEntry("Characters", &entry.AssetEntry{GUID: "villain", Address: "Villain"}))
	require.NoError(t, s.AddEntry("UI Screens", &entry.AssetEntry{GUID: "menu", Address: "Main Menu"}))
	require.NoError(t, s.AddEntry("UI Screens", &entry.AssetEntry{GUID: "hud", Address: "HUD"}))
	require.NoError(t, s.AddEntry("Audio", &entry.AssetEntry{GUID: "m1", Address: "m1", Labels: []string{"music"}}))
	require.NoError(t, s.AddEntry("Audio", &entry.AssetEntry{GUID: "m2", Address: "m2", Labels: []string{"music"}}))
	require.NoError(t, s.AddEntry("Audio", &entry.AssetEntry{GUID: "sfx", Address: "sfx"}))
	require.NoError(t, s.AddEntry("Disabled", &entry.AssetEntry{GUID: "off", Address: "off"}))
	return s
}

func TestPackedMode_Resolve(t *testing.T) {
	s := testSettings(t)
	p, err := PackedMode.Resolve(s, Options{Incremental: true})
	require.NoError(t, err)

	assert.True(t, p.RequiresBuild)
	assert.False(t, p.UseExistingBuild)
	assert.True(t, p.Incremental)
	assert.Equal(t, s.Version, p.SettingsVersion)

	var keys []ident.BundleKey
	for _, b := range p.Bundles {
		keys = append(keys, b.Key)
	}
	assert.Equal(t, []ident.BundleKey{
		"characters_assets_all.bundle",
		"ui_screens_assets_hud.bundle",
		"ui_screens_assets_main_menu.bundle",
		"audio_assets_music.bundle",
		"audio_assets_nolabel.bundle",
	}, keys)

	assert.Equal(t, ident.BundleKey("characters_assets_all.bundle"), p.AssetBundle["villain"])
	assert.Equal(t, ident.GroupKey("Audio"), p.AssetGroup["m2"])
	_, excluded := p.AssetBundle["off"]
	assert.False(t, excluded)

	music, ok := p.Bundle("audio_assets_music.bundle")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"m1", "m2"}, music.GUIDs)

	id, ok := p.Registry.Lookup("characters_assets_all.bundle")
	require.True(t, ok)
	assert.False(t, id.IsBuiltIn())
	_, ok = p.Registry.Lookup(ident.MonoScriptBundleName)
	assert.True(t, ok)
}

func TestFastMode_NoBundles(t *testing.T) {
	p, err := FastMode.Resolve(testSettings(t), Options{})
	require.NoError(t, err)
	assert.False(t, p.RequiresBuild)
	assert.Empty(t, p.Bundles)
}

func TestPackedPlayMode_UsesExistingBuild(t *testing.T) {
	p, err := PackedPlayMode.Resolve(testSettings(t), Options{})
	require.NoError(t, err)
	assert.True(t, p.UseExistingBuild)
	assert.False(t, p.RequiresBuild)
	assert.NotEmpty(t, p.Bundles)
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{FastMode, PackedMode, PackedPlayMode} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStrategy("virtual")
	assert.Error(t, err)
}

func TestBundleName(t *testing.T) {
	assert.Equal(t, ident.BundleKey("my_group_assets_ui_hud_v2.bundle"), BundleName("My Group", "UI/HUD v2"))
}
