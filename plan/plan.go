// Package plan resolves group settings into a concrete list of bundles to build.
//
// The set of strategies is closed: FastMode, PackedMode and PackedPlayMode.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"bundlegraph/entry"
	"bundlegraph/ident"
)

// Strategy selects how content is produced for a session.
type Strategy int

const (
	// FastMode loads assets straight from the asset database; nothing is built.
	FastMode Strategy = iota
	// PackedMode runs a full content build.
	PackedMode
	// PackedPlayMode reuses the output of a previous packed build.
	PackedPlayMode
)

func (s Strategy) String() string {
	switch s {
	case FastMode:
		return "fast"
	case PackedMode:
		return "packed"
	case PackedPlayMode:
		return "packed-play"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the text form produced by String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return FastMode, nil
	case "", "packed":
		return PackedMode, nil
	case "packed-play", "packedplay":
		return PackedPlayMode, nil
	default:
		return 0, fmt.Errorf("invalid strategy %q (valid: fast, packed, packed-play)", s)
	}
}

// Options are caller-supplied build switches.
type Options struct {
	// Incremental is passed through to the backend; it is never inferred.
	Incremental bool
}

// BundleDef is one bundle the plan asks the backend to write.
type BundleDef struct {
	ID    ident.BundleID
	Key   ident.BundleKey
	Group ident.GroupKey
	GUIDs []string
}

// BuildPlan is the resolved output of a strategy.
type BuildPlan struct {
	Strategy         Strategy
	SettingsVersion  int
	Incremental      bool
	RequiresBuild    bool
	UseExistingBuild bool

	Bundles     []BundleDef
	AssetBundle map[string]ident.BundleKey
	AssetGroup  map[string]ident.GroupKey
	Registry    *ident.Registry
}

// Bundle returns the definition for key.
func (p *BuildPlan) Bundle(key ident.BundleKey) (BundleDef, bool) {
	for _, b := range p.Bundles {
		if b.Key == key {
			return b, true
		}
	}
	return BundleDef{}, false
}

// Resolve turns settings into a plan for strategy s.
func (s Strategy) Resolve(settings *entry.Settings, opts Options) (*BuildPlan, error) {
	p := &BuildPlan{
		Strategy:        s,
		SettingsVersion: settings.Version,
		Incremental:     opts.Incremental,
		AssetBundle:     make(map[string]ident.BundleKey),
		AssetGroup:      make(map[string]ident.GroupKey),
		Registry:        ident.NewRegistry(),
	}

	switch s {
	case FastMode:
		return p, nil
	case PackedMode:
		p.RequiresBuild = true
	case PackedPlayMode:
		p.UseExistingBuild = true
	default:
		return nil, fmt.Errorf("resolving plan: unknown strategy %d", int(s))
	}

	for _, g := range settings.Groups() {
		if !g.IncludeInBuild {
			continue
		}
		defs := packGroup(g)
		for _, def := range defs {
			def.ID = p.Registry.Register(def.Key)
			for _, guid := range def.GUIDs {
				if existing, ok := p.AssetBundle[guid]; ok {
					return nil, fmt.Errorf("resolving plan: asset %s assigned to both %s and %s", guid, existing, def.Key)
				}
				p.AssetBundle[guid] = def.Key
				p.AssetGroup[guid] = g.Key
			}
			p.Bundles = append(p.Bundles, def)
		}
	}
	return p, nil
}

func packGroup(g *entry.AssetGroup) []BundleDef {
	entries := g.Entries()
	if len(entries) == 0 {
		return nil
	}

	switch g.Packing {
	case entry.PackSeparately:
		defs := make([]BundleDef, 0, len(entries))
		for _, e := range entries {
			name := e.Address
			if name == "" {
				name = e.GUID
			}
			defs = append(defs, BundleDef{
				Key:   BundleName(g.Key, name),
				Group: g.Key,
				GUIDs: []string{e.GUID},
			})
		}
		return defs

	case entry.PackTogetherByLabel:
		byLabel := make(map[string][]string)
		for _, e := range entries {
			label := "nolabel"
			if len(e.Labels) > 0 {
				labels := append([]string(nil), e.Labels...)
				sort.Strings(labels)
				label = strings.Join(labels, "_")
			}
			byLabel[label] = append(byLabel[label], e.GUID)
		}
		labels := make([]string, 0, len(byLabel))
		for l := range byLabel {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		defs := make([]BundleDef, 0, len(labels))
		for _, l := range labels {
			defs = append(defs, BundleDef{Key: BundleName(g.Key, l), Group: g.Key, GUIDs: byLabel[l]})
		}
		return defs

	default:
		guids := make([]string, 0, len(entries))
		for _, e := range entries {
			guids = append(guids, e.GUID)
		}
		return []BundleDef{{Key: BundleName(g.Key, "all"), Group: g.Key, GUIDs: guids}}
	}
}

// BundleName builds "<group>_assets_<suffix>.bundle", lower-cased with every
// character outside [a-z0-9_.-] replaced by '_'.
func BundleName(group ident.GroupKey, suffix string) ident.BundleKey {
	return ident.BundleKey(sanitize(string(group)) + "_assets_" + sanitize(suffix) + ".bundle")
}

func sanitize(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
