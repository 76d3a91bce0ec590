package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bundlegraph/entry"
	"bundlegraph/ident"
)

type mapResolver map[ident.AssetID][]ident.AssetID

func (m mapResolver) Dependencies(id ident.AssetID) []ident.AssetID {
	return m[id]
}

const (
	bA ident.BundleID = iota + 3
	bB
	bC
	bD
)

func group(t *testing.T, key ident.GroupKey, guids ...string) *entry.AssetGroup {
	t.Helper()
	s := entry.NewSettings()
	g, err := s.CreateGroup(key, entry.PackTogether)
	require.NoError(t, err)
	for _, guid := range guids {
		require.NoError(t, s.AddEntry(key, &entry.AssetEntry{GUID: guid, Address: guid}))
	}
	return g
}

func chainInput(t *testing.T) Input {
	return Input{
		AssetBundles: map[ident.AssetID][]ident.BundleID{
			ident.FromGUID("a"): {bA},
			ident.FromGUID("b"): {bB},
			ident.FromGUID("c"): {bC},
		},
		Groups: []*entry.AssetGroup{group(t, "G", "a", "b", "c")},
		Resolver: mapResolver{
			ident.FromGUID("a"): {ident.FromGUID("b"), ident.FromGUID("implicit")},
			ident.FromGUID("b"): {ident.FromGUID("c")},
		},
	}
}

func TestBuild_Chain(t *testing.T) {
	g, err := Build(chainInput(t))
	require.NoError(t, err)

	assert.Equal(t, []ident.BundleID{bB}, g.Immediate(bA))
	assert.Equal(t, []ident.BundleID{bB, bC}, g.Expanded(bA))
	assert.Equal(t, []ident.BundleID{bC}, g.Expanded(bB))
	assert.Empty(t, g.Expanded(bC))
	assert.True(t, g.DependsOn(bA, bC))
	assert.False(t, g.DependsOn(bC, bA))
	assert.Equal(t, []ident.BundleID{bA}, g.Dependents(bB))
	assert.Equal(t, []ident.BundleID{ident.MonoScriptBundle, bA, bB, bC}, g.Bundles())
}

func TestBuild_MissingBundle(t *testing.T) {
	in := chainInput(t)
	delete(in.AssetBundles, ident.FromGUID("b"))
	_, err := Build(in)
	assert.ErrorIs(t, err, ErrMissingBundle)
}

func TestBuild_ExtraBundlesOfEntry(t *testing.T) {
	in := chainInput(t)
	in.AssetBundles[ident.FromGUID("a")] = []ident.BundleID{bA, bD, bA}
	g, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, []ident.BundleID{bB, bD}, g.Immediate(bA))
}

func TestBuild_SameBundleDependencyAddsNothing(t *testing.T) {
	in := chainInput(t)
	in.AssetBundles[ident.FromGUID("b")] = []ident.BundleID{bA}
	g, err := Build(in)
	require.NoError(t, err)
	assert.Equal(t, []ident.BundleID{bC}, g.Immediate(bA))
}

func TestMonoScriptSentinel(t *testing.T) {
	g, err := Build(chainInput(t))
	require.NoError(t, err)

	assert.Equal(t, []ident.BundleID{ident.MonoScriptBundle}, g.RawImmediate(ident.MonoScriptBundle))
	assert.Empty(t, g.Immediate(ident.MonoScriptBundle))
	assert.Empty(t, g.Expanded(ident.MonoScriptBundle))
	assert.Empty(t, g.Cycles())
	require.NoError(t, g.Validate())
}

func TestNoSelfDependency(t *testing.T) {
	in := chainInput(t)
	in.Resolver.(mapResolver)[ident.FromGUID("c")] = []ident.AssetID{ident.FromGUID("a")}
	g, err := Build(in)
	require.NoError(t, err)

	for _, b := range g.Bundles() {
		assert.NotContains(t, g.Immediate(b), b)
		assert.NotContains(t, g.Expanded(b), b)
	}
	assert.Equal(t, [][]ident.BundleID{{bA, bB, bC}}, g.Cycles())
}

func TestAddEdge_SelfRejected(t *testing.T) {
	g := New()
	assert.ErrorIs(t, g.AddEdge(bA, bA), ErrSelfDependency)
	assert.NoError(t, g.AddEdge(ident.MonoScriptBundle, ident.MonoScriptBundle))
}

func reachable(g *Graph, from ident.BundleID) map[ident.BundleID]bool {
	seen := map[ident.BundleID]bool{}
	var visit func(ident.BundleID)
	visit = func(b ident.BundleID) {
		for _, d := range g.Immediate(b) {
			if !seen[d] {
				seen[d] = true
				visit(d)
			}
		}
	}
	visit(from)
	delete(seen, from)
	return seen
}

func TestExpanded_IsReachabilityFixpoint(t *testing.T) {
	g := New()
	edges := [][2]ident.BundleID{{bA, bB}, {bB, bC}, {bC, bD}, {bA, bD}}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	g.Recompute()

	before := map[ident.BundleID][]ident.BundleID{}
	for _, b := range g.Bundles() {
		want := reachable(g, b)
		got := g.Expanded(b)
		assert.Len(t, got, len(want), "bundle %d", b)
		for _, d := range got {
			assert.True(t, want[d], "bundle %d should not reach %d", b, d)
		}
		before[b] = got
	}

	require.NoError(t, g.AddEdge(bD, ident.MonoScriptBundle))
	g.Recompute()
	for b, prev := range before {
		after := g.Expanded(b)
		for _, d := range prev {
			assert.Contains(t, after, d)
		}
	}
	assert.Contains(t, g.Expanded(bA), ident.MonoScriptBundle)
}
