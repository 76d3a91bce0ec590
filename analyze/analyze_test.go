package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlegraph/ident"
	"bundlegraph/layout"
)

const mb = 1 << 20

type builder struct {
	l    *layout.Layout
	next ident.BundleID
}

func newBuilder() *builder {
	return &builder{l: &layout.Layout{}, next: 3}
}

func (b *builder) bundle(name string, size uint64) *layout.Bundle {
	bundle := layout.NewBundle(b.next, ident.BundleKey(name))
	b.next++
	bundle.FileSize = size
	bundle.Files = []*layout.File{{Name: "CAB-" + name, Bundle: bundle}}
	b.l.Bundles = append(b.l.Bundles, bundle)
	return bundle
}

func (b *builder) asset(bundle *layout.Bundle, guid string, size uint64) *layout.ExplicitAsset {
	f := bundle.Files[0]
	ea := &layout.ExplicitAsset{GUID: guid, File: f, Bundle: bundle}
	ea.AddObject(layout.Object{LocalID: 1, SerializedSize: size})
	f.Assets = append(f.Assets, ea)
	return ea
}

func (b *builder) other(bundle *layout.Bundle, id ident.AssetID, locals ...int64) {
	f := bundle.Files[0]
	o := &layout.DataFromOtherAsset{AssetID: id, File: f}
	for _, l := range locals {
		o.AddObject(layout.Object{LocalID: l, SerializedSize: 10})
	}
	f.OtherAssets = append(f.OtherAssets, o)
}

func uses(root, dep *layout.ExplicitAsset) {
	root.Bundle.UpdateBundleDependency(root, dep)
}

func assertBounds(t *testing.T, l *layout.Layout) {
	t.Helper()
	for _, b := range l.Bundles {
		for _, d := range b.BundleDependencies {
			assert.GreaterOrEqual(t, d.Efficiency, 0.0)
			assert.LessOrEqual(t, d.Efficiency, 1.0)
			assert.GreaterOrEqual(t, d.ExpandedEfficiency, 0.0)
			assert.LessOrEqual(t, d.ExpandedEfficiency, 1.0)
		}
	}
}

func TestComputeEfficiency_Chain(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10*mb)
	B := b.bundle("b", 10*mb)
	C := b.bundle("c", 10*mb)
	a1 := b.asset(A, "a1", mb)
	b1 := b.asset(B, "b1", 2*mb)
	b2 := b.asset(B, "b2", mb)
	c1 := b.asset(C, "c1", 4*mb)
	uses(a1, b1)
	uses(b2, c1)

	ComputeEfficiency(b.l)

	ab := A.BundleDependency(B)
	bc := B.BundleDependency(C)
	require.NotNil(t, ab)
	require.NotNil(t, bc)
	assert.InDelta(t, 0.2, ab.Efficiency, 1e-9)
	assert.InDelta(t, 0.3, ab.ExpandedEfficiency, 1e-9)
	assert.InDelta(t, 0.4, bc.Efficiency, 1e-9)
	assert.InDelta(t, 0.4, bc.ExpandedEfficiency, 1e-9)
	assertBounds(t, b.l)
}

func TestComputeEfficiency_DiamondCountsSharedBundleOnce(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10*mb)
	B := b.bundle("b", 10*mb)
	C := b.bundle("c", 10*mb)
	D := b.bundle("d", 10*mb)
	a1 := b.asset(A, "a1", mb)
	b1 := b.asset(B, "b1", 2*mb)
	bRoot := b.asset(B, "broot", mb)
	c1 := b.asset(C, "c1", 3*mb)
	cRoot := b.asset(C, "croot", mb)
	d1 := b.asset(D, "d1", mb)
	d2 := b.asset(D, "d2", 4*mb)

	uses(a1, b1)
	uses(bRoot, c1)
	uses(bRoot, d1)
	uses(cRoot, d2)

	ComputeEfficiency(b.l)

	// B's subtree holds B, C and D; D is reached twice but counted once.
	ab := A.BundleDependency(B)
	assert.InDelta(t, 0.2, ab.Efficiency, 1e-9)
	assert.InDelta(t, float64(2+3+5)/30, ab.ExpandedEfficiency, 1e-9)

	bd := B.BundleDependency(D)
	assert.InDelta(t, 0.1, bd.Efficiency, 1e-9)
	assert.InDelta(t, 0.1, bd.ExpandedEfficiency, 1e-9)
	assertBounds(t, b.l)
}

func TestComputeEfficiency_TwoPathsFromRoot(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	B := b.bundle("b", 10)
	C := b.bundle("c", 10)
	D := b.bundle("d", 10)
	a1 := b.asset(A, "a1", 1)
	b1 := b.asset(B, "b1", 2)
	c1 := b.asset(C, "c1", 3)
	d1 := b.asset(D, "d1", 4)
	uses(a1, b1)
	uses(a1, c1)
	uses(b1, d1)
	uses(c1, d1)

	ComputeEfficiency(b.l)

	assert.InDelta(t, 0.3, A.BundleDependency(B).ExpandedEfficiency, 1e-9)
	assert.InDelta(t, 0.35, A.BundleDependency(C).ExpandedEfficiency, 1e-9)
}

func TestComputeEfficiency_ZeroSizeDependency(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	Z := b.bundle("z", 0)
	uses(b.asset(A, "a1", 1), b.asset(Z, "z1", 5))

	ComputeEfficiency(b.l)

	d := A.BundleDependency(Z)
	assert.Equal(t, 1.0, d.Efficiency)
	assert.Equal(t, 1.0, d.ExpandedEfficiency)
}

func TestComputeEfficiency_ZeroSizeDependencyWithSubtree(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	Z := b.bundle("z", 0)
	C := b.bundle("c", 10)
	uses(b.asset(A, "a1", 1), b.asset(Z, "z1", 5))
	uses(b.asset(Z, "z2", 1), b.asset(C, "c1", 4))

	ComputeEfficiency(b.l)

	d := A.BundleDependency(Z)
	assert.Equal(t, 1.0, d.Efficiency)
	// Z contributes nothing to either side; C's 4 of 10 bytes carry the ratio.
	assert.InDelta(t, 0.4, d.ExpandedEfficiency, 1e-9)
	assert.InDelta(t, 0.4, Z.BundleDependency(C).ExpandedEfficiency, 1e-9)
}

func TestComputeEfficiency_ClampsOversizedReferences(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	B := b.bundle("b", 10)
	uses(b.asset(A, "a1", 1), b.asset(B, "b1", 50))

	ComputeEfficiency(b.l)

	assert.Equal(t, 1.0, A.BundleDependency(B).Efficiency)
	assert.Equal(t, 1.0, A.BundleDependency(B).ExpandedEfficiency)
}

func TestComputeEfficiency_Cycle(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	B := b.bundle("b", 10)
	a1 := b.asset(A, "a1", 1)
	b1 := b.asset(B, "b1", 2)
	uses(a1, b1)
	uses(b1, a1)

	ComputeEfficiency(b.l)

	assert.InDelta(t, 0.2, A.BundleDependency(B).Efficiency, 1e-9)
	assert.InDelta(t, 0.1, B.BundleDependency(A).Efficiency, 1e-9)
	assertBounds(t, b.l)

	ab, ba := A.BundleDependency(B).ExpandedEfficiency, B.BundleDependency(A).ExpandedEfficiency
	for range 3 {
		ComputeEfficiency(b.l)
		assert.Equal(t, ab, A.BundleDependency(B).ExpandedEfficiency)
		assert.Equal(t, ba, B.BundleDependency(A).ExpandedEfficiency)
	}
}

func TestFindDuplicates(t *testing.T) {
	b := newBuilder()
	X := b.bundle("x", 10)
	Y := b.bundle("y", 10)
	tex := ident.FromGUID("tex")
	b.other(X, tex, 1, 2)
	b.other(Y, tex, 1)
	b.other(X, ident.FromGUID("solo"), 1)
	b.other(X, ident.FromGUID("partial"), 3)
	b.other(Y, ident.FromGUID("partial"), 4)
	b.other(X, ident.FromPath("Resources/unity_builtin_extra"), 7)
	b.other(Y, ident.FromPath("Resources/unity_builtin_extra"), 7)

	dups := FindDuplicates(b.l)
	require.Len(t, dups, 2)
	assert.Equal(t, dups, b.l.Duplicates)

	assert.Equal(t, tex, dups[0].AssetID)
	require.Len(t, dups[0].Objects, 1)
	assert.Equal(t, int64(1), dups[0].Objects[0].LocalID)
	assert.Equal(t, []*layout.File{X.Files[0], Y.Files[0]}, dups[0].Objects[0].Files)
	assert.Equal(t, []*layout.Bundle{X, Y}, DuplicatedBundles(dups[0]))

	assert.True(t, dups[1].AssetID.IsPath)
}

func TestSummaryAndEdges(t *testing.T) {
	b := newBuilder()
	A := b.bundle("a", 10)
	B := b.bundle("b", 10)
	C := b.bundle("c", 10)
	a1 := b.asset(A, "a1", 1)
	uses(a1, b.asset(B, "b1", 5))
	uses(a1, b.asset(C, "c1", 1))
	ComputeEfficiency(b.l)

	rows := Summary(b.l)
	require.Len(t, rows, 3)
	assert.Equal(t, ident.BundleKey("a"), rows[0].Name)
	assert.Equal(t, 2, rows[0].Dependencies)
	assert.InDelta(t, 0.1, rows[0].WorstEfficiency, 1e-9)
	assert.Equal(t, 1.0, rows[1].WorstEfficiency)
	assert.Equal(t, 1, rows[1].Dependents)

	edges := Edges(b.l)
	require.Len(t, edges, 2)
	assert.Equal(t, ident.BundleKey("c"), edges[0].To)
	assert.Equal(t, ident.BundleKey("b"), edges[1].To)
}
