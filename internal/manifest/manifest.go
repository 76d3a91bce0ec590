// Package manifest loads a project description from YAML or JSON and serves
// it as the engine collaborators a build session and the analyze rules
// expect: the asset database, scene state, bundle size probing and a build
// backend that replays recorded write results.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"bundlegraph/entry"
	"bundlegraph/ident"
	"bundlegraph/plan"
	"bundlegraph/session"
	"bundlegraph/writedata"
)

// ResourcesPattern matches asset paths under a Resources folder.
const ResourcesPattern = "**/Resources/**"

// Asset is one asset known to the asset database.
type Asset struct {
	GUID string `yaml:"guid" json:"guid"`
	Path string `yaml:"path" json:"path"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	// Dependencies are the direct dependencies, by GUID or path.
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Entry is an addressable entry of a group.
type Entry struct {
	GUID    string   `yaml:"guid" json:"guid"`
	Address string   `yaml:"address,omitempty" json:"address,omitempty"`
	Labels  []string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Group is a group of entries.
type Group struct {
	Name           string            `yaml:"name" json:"name"`
	Packing        entry.PackingMode `yaml:"packing" json:"packing"`
	IncludeInBuild *bool             `yaml:"includeInBuild,omitempty" json:"includeInBuild,omitempty"`
	Entries        []Entry           `yaml:"entries" json:"entries"`
}

// Manifest is the on-disk project description.
type Manifest struct {
	Target string  `yaml:"target,omitempty" json:"target,omitempty"`
	Assets []Asset `yaml:"assets" json:"assets"`
	Groups []Group `yaml:"groups" json:"groups"`
	// RulesFile holds group rules applied to assets no group lists. Relative
	// to the manifest.
	RulesFile string   `yaml:"rulesFile,omitempty" json:"rulesFile,omitempty"`
	Scenes    []string `yaml:"scenes,omitempty" json:"scenes,omitempty"`
	Unsaved   bool     `yaml:"unsaved,omitempty" json:"unsaved,omitempty"`
	// ReturnCode, when non-zero, is reported by Build instead of success.
	ReturnCode   session.ReturnCode      `yaml:"returnCode,omitempty" json:"returnCode,omitempty"`
	WriteResults *writedata.WriteResults `yaml:"writeResults,omitempty" json:"writeResults,omitempty"`

	dir    string
	byGUID map[string]*Asset
	byPath map[string]*Asset
}

// Load reads a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Parse parses manifest data. JSON input is accepted as YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) index() error {
	m.byGUID = make(map[string]*Asset, len(m.Assets))
	m.byPath = make(map[string]*Asset, len(m.Assets))
	for i := range m.Assets {
		a := &m.Assets[i]
		if a.GUID == "" || a.Path == "" {
			return fmt.Errorf("manifest asset %d: guid and path are required", i)
		}
		if _, dup := m.byGUID[a.GUID]; dup {
			return fmt.Errorf("manifest asset %s: duplicate guid", a.GUID)
		}
		m.byGUID[a.GUID] = a
		m.byPath[a.Path] = a
	}
	return nil
}

// Save writes the manifest as YAML.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func (m *Manifest) lookup(ref string) *Asset {
	if a, ok := m.byGUID[ref]; ok {
		return a
	}
	return m.byPath[ref]
}

// Settings builds the entry settings described by the manifest, then applies
// the group rules file, if any, to the remaining assets.
func (m *Manifest) Settings() (*entry.Settings, error) {
	s := entry.NewSettings()
	for _, g := range m.Groups {
		group, err := s.CreateGroup(ident.GroupKey(g.Name), g.Packing)
		if err != nil {
			return nil, err
		}
		if g.IncludeInBuild != nil {
			group.IncludeInBuild = *g.IncludeInBuild
		}
		for _, e := range g.Entries {
			ae := &entry.AssetEntry{GUID: e.GUID, Address: e.Address, Labels: e.Labels}
			if a := m.byGUID[e.GUID]; a != nil {
				ae.Path = a.Path
			}
			if err := s.AddEntry(group.Key, ae); err != nil {
				return nil, err
			}
		}
	}

	if m.RulesFile == "" {
		return s, nil
	}
	path := m.RulesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.dir, path)
	}
	rs, err := entry.LoadRules(path)
	if err != nil {
		return nil, err
	}
	candidates := make([]entry.Candidate, 0, len(m.Assets))
	for _, a := range m.Assets {
		candidates = append(candidates, entry.Candidate{GUID: a.GUID, Path: a.Path})
	}
	if _, err := rs.Apply(s, candidates); err != nil {
		return nil, fmt.Errorf("applying group rules: %w", err)
	}
	return s, nil
}

// SetGroups replaces the manifest groups with those of s.
func (m *Manifest) SetGroups(s *entry.Settings) {
	groups := make([]Group, 0, len(s.Groups()))
	for _, g := range s.Groups() {
		out := Group{Name: string(g.Key), Packing: g.Packing}
		if !g.IncludeInBuild {
			include := false
			out.IncludeInBuild = &include
		}
		for _, e := range g.Entries() {
			out.Entries = append(out.Entries, Entry{GUID: e.GUID, Address: e.Address, Labels: e.Labels})
		}
		groups = append(groups, out)
	}
	m.Groups = groups
	m.RulesFile = ""
}

// ----- asset database -----

// Dependencies returns every asset id depends on, transitively, in
// breadth-first order. References the manifest does not list are returned as
// path ids and not followed.
func (m *Manifest) Dependencies(id ident.AssetID) []ident.AssetID {
	root := m.lookup(id.Value)
	if root == nil {
		return nil
	}
	seen := map[*Asset]bool{root: true}
	unknown := make(map[string]bool)
	var out []ident.AssetID
	queue := []*Asset{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range cur.Dependencies {
			dep := m.lookup(ref)
			if dep == nil {
				if !unknown[ref] {
					unknown[ref] = true
					out = append(out, ident.FromPath(ref))
				}
				continue
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, ident.FromGUID(dep.GUID))
			queue = append(queue, dep)
		}
	}
	return out
}

// GUIDToPath returns the path of the asset with guid.
func (m *Manifest) GUIDToPath(guid string) string {
	if a := m.byGUID[guid]; a != nil {
		return a.Path
	}
	return ""
}

// PathToGUID returns the guid of the asset at path.
func (m *Manifest) PathToGUID(path string) string {
	if a := m.byPath[path]; a != nil {
		return a.GUID
	}
	return ""
}

// MainAssetType returns the type recorded for the asset at path.
func (m *Manifest) MainAssetType(path string) string {
	if a := m.byPath[path]; a != nil {
		return a.Type
	}
	return ""
}

// PathDependencies lists path and the paths it depends on, transitively when
// recursive is set.
func (m *Manifest) PathDependencies(path string, recursive bool) []string {
	seen := map[string]bool{path: true}
	out := []string{path}
	queue := []string{path}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		a := m.byPath[cur]
		if a == nil {
			continue
		}
		for _, ref := range a.Dependencies {
			p := ref
			if dep := m.lookup(ref); dep != nil {
				p = dep.Path
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			if recursive {
				queue = append(queue, p)
			}
		}
	}
	return out
}

// ResourcePaths returns every asset path under a Resources folder, sorted.
func (m *Manifest) ResourcePaths() []string {
	var out []string
	for _, a := range m.Assets {
		if ok, _ := doublestar.Match(ResourcesPattern, a.Path); ok {
			out = append(out, a.Path)
		}
	}
	sort.Strings(out)
	return out
}

// HasUnsavedModifications reports the recorded unsaved-scenes flag.
func (m *Manifest) HasUnsavedModifications() bool {
	return m.Unsaved
}

// ----- backend -----

// Build replays the recorded write results. A manifest without results
// reports that nothing was built.
func (m *Manifest) Build(ctx context.Context, p *plan.BuildPlan) (*writedata.WriteResults, session.ReturnCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, session.Canceled, err
	}
	if m.ReturnCode != session.Success {
		return nil, m.ReturnCode, nil
	}
	if m.WriteResults == nil {
		return nil, session.SuccessNotRun, nil
	}
	for guid := range p.AssetBundle {
		if _, ok := m.WriteResults.AssetToFiles[guid]; !ok {
			return nil, session.MissingRequiredObjects, fmt.Errorf("write results have no files for planned asset %s", guid)
		}
	}
	return m.WriteResults, session.Success, nil
}

// Size returns the size of a written bundle file, resolved against the
// manifest directory.
func (m *Manifest) Size(path string) (uint64, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.dir, path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, errors.New("bundle path is a directory")
	}
	return uint64(fi.Size()), nil
}

// RuleAssets adapts the manifest to the path-based asset database of the
// analyze rules.
func (m *Manifest) RuleAssets() RuleAssets {
	return RuleAssets{m}
}

// RuleAssets answers path-keyed dependency queries.
type RuleAssets struct {
	m *Manifest
}

// Dependencies implements rules.AssetDatabase.
func (r RuleAssets) Dependencies(path string, recursive bool) []string {
	return r.m.PathDependencies(path, recursive)
}

// GUIDToPath implements rules.AssetDatabase.
func (r RuleAssets) GUIDToPath(guid string) string { return r.m.GUIDToPath(guid) }

// PathToGUID implements rules.AssetDatabase.
func (r RuleAssets) PathToGUID(path string) string { return r.m.PathToGUID(path) }
