package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"bundlegraph/analyze"
	"bundlegraph/entry"
	"bundlegraph/ident"
	"bundlegraph/layout"
)

// Rule names.
const (
	CheckBundleDupeDependenciesName    = "Check Duplicate Bundle Dependencies"
	CheckResourcesDupeDependenciesName = "Check Resources to Addressable Duplicate Dependencies"
	CheckSceneDupeDependenciesName     = "Check Scene to Addressable Duplicate Dependencies"
)

// IsolationGroup receives assets moved out of bundles by the duplicate fix.
const IsolationGroup ident.GroupKey = "Duplicate Asset Isolation"

const resourcesPattern = "**/Resources/**"

// bundledAssets maps every GUID written into l to the bundles holding it.
func bundledAssets(l *layout.Layout) map[string]map[ident.BundleKey]struct{} {
	out := make(map[string]map[ident.BundleKey]struct{})
	add := func(guid string, b *layout.Bundle) {
		if guid == "" || b == nil {
			return
		}
		if out[guid] == nil {
			out[guid] = make(map[ident.BundleKey]struct{})
		}
		out[guid][b.Name] = struct{}{}
	}
	for _, ea := range l.ExplicitAssets() {
		add(ea.GUID, ea.Bundle)
	}
	for _, o := range l.OtherAssets() {
		if !o.AssetID.IsPath {
			add(o.AssetID.Value, o.File.Bundle)
		}
	}
	return out
}

func sortedKeys(set map[ident.BundleKey]struct{}) []ident.BundleKey {
	out := make([]ident.BundleKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sourceDupes reports, for each source path, its dependencies that were also
// written into a bundle.
func sourceDupes(c *Context, l *layout.Layout, sources []string) []Result {
	if c.Assets == nil {
		return nil
	}
	bundled := bundledAssets(l)
	delim := c.delimiter()

	var results []Result
	for _, src := range sources {
		for _, dep := range c.Assets.Dependencies(src, true) {
			if dep == src {
				continue
			}
			bundles, ok := bundled[c.Assets.PathToGUID(dep)]
			if !ok {
				continue
			}
			for _, b := range sortedKeys(bundles) {
				results = append(results, Result{
					Name:     JoinName(delim, src, string(b), dep),
					Severity: Warning,
				})
			}
		}
	}
	return results
}

func isAddressable(c *Context, path string) bool {
	if c.Settings == nil || c.Assets == nil {
		return false
	}
	_, _, ok := c.Settings.FindEntry(c.Assets.PathToGUID(path))
	return ok
}

// CheckResourcesDupeDependencies reports dependencies of non-addressable
// Resources assets that were also written into a bundle.
type CheckResourcesDupeDependencies struct {
	baseRule
}

// NewCheckResourcesDupeDependencies returns an idle rule.
func NewCheckResourcesDupeDependencies() *CheckResourcesDupeDependencies {
	return &CheckResourcesDupeDependencies{baseRule{name: CheckResourcesDupeDependenciesName}}
}

// Refresh implements Rule.
func (r *CheckResourcesDupeDependencies) Refresh(c *Context) error {
	return r.run(c, func(l *layout.Layout) []Result {
		var sources []string
		for _, p := range c.ResourcePaths {
			if ok, _ := doublestar.Match(resourcesPattern, p); ok && !isAddressable(c, p) {
				sources = append(sources, p)
			}
		}
		return sourceDupes(c, l, sources)
	})
}

// CheckSceneDupeDependencies reports dependencies of build-settings scenes
// that were also written into a bundle.
type CheckSceneDupeDependencies struct {
	baseRule
}

// NewCheckSceneDupeDependencies returns an idle rule.
func NewCheckSceneDupeDependencies() *CheckSceneDupeDependencies {
	return &CheckSceneDupeDependencies{baseRule{name: CheckSceneDupeDependenciesName}}
}

// Refresh implements Rule.
func (r *CheckSceneDupeDependencies) Refresh(c *Context) error {
	return r.run(c, func(l *layout.Layout) []Result {
		return sourceDupes(c, l, c.BuildScenes)
	})
}

// CheckBundleDupeDependencies reports implicit assets written into more than
// one bundle. Fix moves them into a dedicated group.
type CheckBundleDupeDependencies struct {
	baseRule
	duplicated []string
}

// NewCheckBundleDupeDependencies returns an idle rule.
func NewCheckBundleDupeDependencies() *CheckBundleDupeDependencies {
	return &CheckBundleDupeDependencies{baseRule: baseRule{name: CheckBundleDupeDependenciesName}}
}

// Clear implements Rule.
func (r *CheckBundleDupeDependencies) Clear() {
	r.baseRule.Clear()
	r.duplicated = nil
}

// Duplicated returns the GUIDs found by the last refresh.
func (r *CheckBundleDupeDependencies) Duplicated() []string {
	return r.duplicated
}

// Refresh implements Rule.
func (r *CheckBundleDupeDependencies) Refresh(c *Context) error {
	r.duplicated = nil
	return r.run(c, func(l *layout.Layout) []Result {
		dups := l.Duplicates
		if dups == nil {
			dups = analyze.FindDuplicates(l)
		}

		paths := make(map[ident.AssetID]string)
		for _, o := range l.OtherAssets() {
			if o.AssetPath != "" {
				paths[o.AssetID] = o.AssetPath
			}
		}

		var results []Result
		seen := make(map[string]struct{})
		for _, d := range dups {
			p := paths[d.AssetID]
			if p == "" {
				p = d.AssetID.Value
			}
			for _, b := range analyze.DuplicatedBundles(d) {
				results = append(results, Result{
					Name:     JoinName(c.delimiter(), string(b.Name), "Duplicated Implicit Assets", p),
					Severity: Warning,
				})
			}
			if !d.AssetID.IsPath {
				if _, ok := seen[d.AssetID.Value]; !ok {
					seen[d.AssetID.Value] = struct{}{}
					r.duplicated = append(r.duplicated, d.AssetID.Value)
				}
			}
		}
		sort.Strings(r.duplicated)
		return results
	})
}

// Fix moves every duplicated asset into IsolationGroup, creating the group
// with separate packing when needed. The rule is cleared afterwards.
func (r *CheckBundleDupeDependencies) Fix(c *Context) error {
	if r.state != HasResults {
		return fmt.Errorf("%s: fix requires results, rule is %s", r.name, r.state)
	}
	if c.Settings == nil {
		return fmt.Errorf("%s: fix requires settings", r.name)
	}

	if _, ok := c.Settings.Group(IsolationGroup); !ok {
		if _, err := c.Settings.CreateGroup(IsolationGroup, entry.PackSeparately); err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
	}

	for _, guid := range r.duplicated {
		err := c.Settings.MoveEntry(guid, IsolationGroup)
		if err == nil {
			continue
		}
		if !errors.Is(err, entry.ErrEntryNotFound) {
			return fmt.Errorf("%s: moving %s: %w", r.name, guid, err)
		}
		path := ""
		if c.Assets != nil {
			path = c.Assets.GUIDToPath(guid)
		}
		address := path
		if address == "" {
			address = guid
		}
		if err := c.Settings.AddEntry(IsolationGroup, &entry.AssetEntry{GUID: guid, Address: address, Path: path}); err != nil {
			return fmt.Errorf("%s: adding %s: %w", r.name, guid, err)
		}
	}
	r.Clear()
	return nil
}
