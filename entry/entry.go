// Package entry models addressable entries and the logical groups that own
// them. Groups decide how their entries are packed into output bundles.
package entry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bundlegraph/ident"
)

var (
	ErrGroupExists    = errors.New("group already exists")
	ErrGroupNotFound  = errors.New("group not found")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrDuplicateEntry = errors.New("entry already belongs to a group")
)

// PackingMode controls how a group's entries map to bundles.
type PackingMode int

const (
	// PackTogether writes every entry of the group into one bundle.
	PackTogether PackingMode = iota
	// PackSeparately writes one bundle per entry.
	PackSeparately
	// PackTogetherByLabel writes one bundle per distinct label.
	PackTogetherByLabel
)

func (m PackingMode) String() string {
	switch m {
	case PackTogether:
		return "together"
	case PackSeparately:
		return "separately"
	case PackTogetherByLabel:
		return "label"
	default:
		return fmt.Sprintf("PackingMode(%d)", int(m))
	}
}

// ParsePackingMode parses the text form produced by String. Empty means together.
func ParsePackingMode(s string) (PackingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "together":
		return PackTogether, nil
	case "separately":
		return PackSeparately, nil
	case "label", "bylabel":
		return PackTogetherByLabel, nil
	default:
		return 0, fmt.Errorf("invalid packing mode %q (valid: together, separately, label)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m PackingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PackingMode) UnmarshalText(text []byte) error {
	mode, err := ParsePackingMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// AssetEntry is one addressable asset.
type AssetEntry struct {
	GUID    string   `json:"guid" yaml:"guid"`
	Address string   `json:"address" yaml:"address"`
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Labels  []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// AssetID returns the entry's asset id.
func (e *AssetEntry) AssetID() ident.AssetID {
	return ident.FromGUID(e.GUID)
}

// HasLabel reports whether the entry carries label.
func (e *AssetEntry) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AssetGroup is a named collection of entries sharing a packing mode. The
// zero value is an empty group excluded from builds; NewAssetGroup returns one
// that is included.
type AssetGroup struct {
	Key            ident.GroupKey
	Packing        PackingMode
	IncludeInBuild bool

	entries map[string]*AssetEntry
}

// NewAssetGroup returns an empty group included in builds.
func NewAssetGroup(key ident.GroupKey, packing PackingMode) *AssetGroup {
	return &AssetGroup{
		Key:            key,
		Packing:        packing,
		IncludeInBuild: true,
		entries:        make(map[string]*AssetEntry),
	}
}

func (g *AssetGroup) add(e *AssetEntry) {
	if g.entries == nil {
		g.entries = make(map[string]*AssetEntry)
	}
	g.entries[e.GUID] = e
}

func (g *AssetGroup) remove(guid string) (*AssetEntry, bool) {
	e, ok := g.entries[guid]
	if ok {
		delete(g.entries, guid)
	}
	return e, ok
}

// Entry returns the entry with guid.
func (g *AssetGroup) Entry(guid string) (*AssetEntry, bool) {
	e, ok := g.entries[guid]
	return e, ok
}

// Entries returns the group's entries sorted by address, then GUID.
func (g *AssetGroup) Entries() []*AssetEntry {
	out := make([]*AssetEntry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].GUID < out[j].GUID
	})
	return out
}

// Len returns the number of entries.
func (g *AssetGroup) Len() int {
	return len(g.entries)
}

// Settings holds the ordered set of groups. Version is bumped on every
// mutation so caches can stamp their entries with it. The zero value is an
// empty, usable Settings.
type Settings struct {
	Version int

	groups []*AssetGroup
	owner  map[string]*AssetGroup
}

// NewSettings returns empty settings.
func NewSettings() *Settings {
	return &Settings{owner: make(map[string]*AssetGroup)}
}

// Groups returns groups in creation order.
func (s *Settings) Groups() []*AssetGroup {
	out := make([]*AssetGroup, len(s.groups))
	copy(out, s.groups)
	return out
}

// Group returns the group named key.
func (s *Settings) Group(key ident.GroupKey) (*AssetGroup, bool) {
	for _, g := range s.groups {
		if g.Key == key {
			return g, true
		}
	}
	return nil, false
}

// CreateGroup adds a new empty group.
func (s *Settings) CreateGroup(key ident.GroupKey, packing PackingMode) (*AssetGroup, error) {
	if _, ok := s.Group(key); ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupExists, key)
	}
	g := NewAssetGroup(key, packing)
	s.groups = append(s.groups, g)
	s.Version++
	return g, nil
}

// RemoveGroup deletes a group and every entry it owns.
func (s *Settings) RemoveGroup(key ident.GroupKey) error {
	for i, g := range s.groups {
		if g.Key != key {
			continue
		}
		for guid := range g.entries {
			delete(s.owner, guid)
		}
		s.groups = append(s.groups[:i], s.groups[i+1:]...)
		s.Version++
		return nil
	}
	return fmt.Errorf("%w: %s", ErrGroupNotFound, key)
}

// AddEntry adds e to the group named key. An entry belongs to at most one group.
func (s *Settings) AddEntry(key ident.GroupKey, e *AssetEntry) error {
	g, ok := s.Group(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, key)
	}
	if current, exists := s.owner[e.GUID]; exists {
		return fmt.Errorf("%w: %s is in %s", ErrDuplicateEntry, e.GUID, current.Key)
	}
	g.add(e)
	if s.owner == nil {
		s.owner = make(map[string]*AssetGroup)
	}
	s.owner[e.GUID] = g
	s.Version++
	return nil
}

// RemoveEntry removes the entry with guid from its group.
func (s *Settings) RemoveEntry(guid string) error {
	g, ok := s.owner[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, guid)
	}
	g.remove(guid)
	delete(s.owner, guid)
	s.Version++
	return nil
}

// MoveEntry reassigns the entry with guid to the group named to.
func (s *Settings) MoveEntry(guid string, to ident.GroupKey) error {
	from, ok := s.owner[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, guid)
	}
	target, ok := s.Group(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, to)
	}
	if from == target {
		return nil
	}
	e, _ := from.remove(guid)
	target.add(e)
	s.owner[guid] = target
	s.Version++
	return nil
}

// FindEntry returns the entry with guid and the group that owns it.
func (s *Settings) FindEntry(guid string) (*AssetEntry, *AssetGroup, bool) {
	g, ok := s.owner[guid]
	if !ok {
		return nil, nil, false
	}
	e, _ := g.Entry(guid)
	return e, g, true
}

// AllEntries returns every entry of every group, groups in creation order.
func (s *Settings) AllEntries() []*AssetEntry {
	var out []*AssetEntry
	for _, g := range s.groups {
		out = append(out, g.Entries()...)
	}
	return out
}
