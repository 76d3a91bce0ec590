package diff

import (
	"encoding/json"
	"strings"
	"testing"

	"bundlegraph/ident"
	"bundlegraph/layout"
)

type bundleFixture struct {
	name   string
	size   uint64
	assets map[string]uint64 // guid -> size, path is "Assets/<guid>"
}

func build(fixtures ...bundleFixture) *layout.Layout {
	l := &layout.Layout{Header: layout.Header{BuildTarget: "iOS"}}
	for i, s := range fixtures {
		b := layout.NewBundle(ident.BundleID(i+3), ident.BundleKey(s.name))
		b.FileSize = s.size
		f := &layout.File{Name: "CAB-" + s.name, Bundle: b}
		for guid, size := range s.assets {
			ea := &layout.ExplicitAsset{GUID: guid, AssetPath: "Assets/" + guid, File: f, Bundle: b}
			ea.AddObject(layout.Object{LocalID: 1, SerializedSize: size})
			f.Assets = append(f.Assets, ea)
		}
		b.Files = []*layout.File{f}
		l.Bundles = append(l.Bundles, b)
	}
	return l
}

func find(ld *LayoutDiff, name string) *BundleDiff {
	for i := range ld.Bundles {
		if ld.Bundles[i].Name == name {
			return &ld.Bundles[i]
		}
	}
	return nil
}

func TestCompare_NoChanges(t *testing.T) {
	a := build(bundleFixture{name: "ui.bundle", size: 100, assets: map[string]uint64{"menu": 40}})
	b := build(bundleFixture{name: "ui.bundle", size: 100, assets: map[string]uint64{"menu": 40}})

	ld := Compare(a, b)
	if !ld.Empty() {
		t.Errorf("expected empty diff, got %+v", ld.Bundles)
	}
	if ld.Base != "iOS" {
		t.Errorf("expected base iOS, got %q", ld.Base)
	}
}

func TestCompare_AddedRemovedModified(t *testing.T) {
	prev := build(
		bundleFixture{name: "ui.bundle", size: 100, assets: map[string]uint64{"menu": 40, "hud": 10}},
		bundleFixture{name: "old.bundle", size: 50, assets: map[string]uint64{"legacy": 50}},
	)
	curr := build(
		bundleFixture{name: "ui.bundle", size: 120, assets: map[string]uint64{"menu": 60}},
		bundleFixture{name: "new.bundle", size: 80, assets: map[string]uint64{"fresh": 80}},
	)

	ld := Compare(prev, curr)

	if got := find(ld, "new.bundle"); got == nil || got.Action != ActionAdded {
		t.Errorf("expected new.bundle added, got %+v", got)
	}
	if got := find(ld, "old.bundle"); got == nil || got.Action != ActionRemoved {
		t.Errorf("expected old.bundle removed, got %+v", got)
	}

	ui := find(ld, "ui.bundle")
	if ui == nil || ui.Action != ActionModified {
		t.Fatalf("expected ui.bundle modified, got %+v", ui)
	}
	if len(ui.Assets) != 2 {
		t.Fatalf("expected 2 asset changes, got %+v", ui.Assets)
	}
	if ui.Assets[0].GUID != "hud" || ui.Assets[0].Action != ActionRemoved {
		t.Errorf("expected hud removed first, got %+v", ui.Assets[0])
	}
	if ui.Assets[1].GUID != "menu" || ui.Assets[1].Action != ActionModified || ui.Assets[1].NewSize != 60 {
		t.Errorf("expected menu modified to 60, got %+v", ui.Assets[1])
	}

	s := ld.Summary
	if s.BundlesAdded != 1 || s.BundlesRemoved != 1 || s.BundlesModified != 1 {
		t.Errorf("unexpected bundle summary: %+v", s)
	}
	if s.AssetsAdded != 1 || s.AssetsRemoved != 2 || s.AssetsModified != 1 {
		t.Errorf("unexpected asset summary: %+v", s)
	}
	if s.SizeDelta != 50 {
		t.Errorf("expected size delta 50, got %d", s.SizeDelta)
	}
}

func TestCompare_Moved(t *testing.T) {
	prev := build(
		bundleFixture{name: "a.bundle", size: 100, assets: map[string]uint64{"sword": 30, "shield": 70}},
		bundleFixture{name: "b.bundle", size: 100, assets: map[string]uint64{"bow": 100}},
	)
	curr := build(
		bundleFixture{name: "a.bundle", size: 100, assets: map[string]uint64{"shield": 70}},
		bundleFixture{name: "b.bundle", size: 100, assets: map[string]uint64{"bow": 100, "sword": 30}},
	)

	ld := Compare(prev, curr)

	b := find(ld, "b.bundle")
	if b == nil || len(b.Assets) != 1 || b.Assets[0].Action != ActionMoved || b.Assets[0].FromBundle != "a.bundle" {
		t.Fatalf("expected sword moved into b.bundle, got %+v", b)
	}
	if a := find(ld, "a.bundle"); a == nil {
		t.Error("expected a.bundle listed as modified after losing an asset")
	}
	if ld.Summary.AssetsMoved != 1 {
		t.Errorf("expected 1 moved asset, got %d", ld.Summary.AssetsMoved)
	}
}

func TestCompare_Dependencies(t *testing.T) {
	prev := build(
		bundleFixture{name: "a.bundle", size: 10},
		bundleFixture{name: "b.bundle", size: 10},
	)
	curr := build(
		bundleFixture{name: "a.bundle", size: 10},
		bundleFixture{name: "b.bundle", size: 10},
	)
	curr.Bundles[0].LinkDependency(curr.Bundles[1])

	ld := Compare(prev, curr)
	a := find(ld, "a.bundle")
	if a == nil || len(a.DependenciesAdded) != 1 || a.DependenciesAdded[0] != "b.bundle" {
		t.Fatalf("expected a.bundle to gain b.bundle, got %+v", a)
	}
}

func TestFormatText(t *testing.T) {
	prev := build(bundleFixture{name: "ui.bundle", size: 1000, assets: map[string]uint64{"menu": 40}})
	curr := build(
		bundleFixture{name: "ui.bundle", size: 2000, assets: map[string]uint64{"menu": 40}},
		bundleFixture{name: "fx.bundle", size: 5000, assets: map[string]uint64{"spark": 5}},
	)

	text := Compare(prev, curr).FormatText()
	for _, want := range []string{
		"+ fx.bundle (5.0 kB)",
		"  + Assets/spark",
		"~ ui.bundle (1.0 kB -> 2.0 kB)",
		"Summary: 2 bundles (1 added, 1 modified, 0 removed)",
		"size +6.0 kB",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	prev := build(bundleFixture{name: "ui.bundle", size: 10})
	curr := build()

	data, err := Compare(prev, curr).FormatJSON()
	if err != nil {
		t.Fatalf("FormatJSON failed: %v", err)
	}
	var decoded LayoutDiff
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Summary.BundlesRemoved != 1 || decoded.Summary.SizeDelta != -10 {
		t.Errorf("unexpected summary: %+v", decoded.Summary)
	}
	if !strings.Contains(Compare(prev, curr).FormatStats(), "size -10 B") {
		t.Errorf("unexpected stats: %s", Compare(prev, curr).FormatStats())
	}
}
