package entry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"bundlegraph/ident"
)

// GroupRule defines a group and the asset paths it claims.
type GroupRule struct {
	Name    string      `yaml:"name"`
	Packing PackingMode `yaml:"packing"`
	Include []string    `yaml:"include"`
	Exclude []string    `yaml:"exclude,omitempty"`
}

// RulesConfig is the on-disk form of a rule set.
type RulesConfig struct {
	Groups []GroupRule `yaml:"groups"`
}

// RuleSet matches asset paths to groups.
type RuleSet struct {
	rules []GroupRule
}

// Candidate is an asset that group rules may claim.
type Candidate struct {
	GUID    string
	Path    string
	Address string
}

// LoadRules loads group rules from a YAML file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses YAML rule data.
func ParseRules(data []byte) (*RuleSet, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return NewRuleSet(config.Groups)
}

// NewRuleSet validates the patterns and returns a rule set.
func NewRuleSet(rules []GroupRule) (*RuleSet, error) {
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("group rule without a name")
		}
		for _, p := range append(append([]string{}, r.Include...), r.Exclude...) {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("group %s: invalid pattern %q", r.Name, p)
			}
		}
	}
	return &RuleSet{rules: rules}, nil
}

// Rules returns the rules in declaration order.
func (rs *RuleSet) Rules() []GroupRule {
	return rs.rules
}

func (r GroupRule) matches(path string) bool {
	for _, pattern := range r.Exclude {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return false
		}
	}
	for _, pattern := range r.Include {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// MatchPath returns the names of every group whose rule claims path.
func (rs *RuleSet) MatchPath(path string) []ident.GroupKey {
	var matched []ident.GroupKey
	for _, r := range rs.rules {
		if r.matches(path) {
			matched = append(matched, ident.GroupKey(r.Name))
		}
	}
	return matched
}

// Apply creates any missing rule groups and adds each unassigned candidate to
// the first group whose rule claims its path. It returns the number added.
func (rs *RuleSet) Apply(s *Settings, candidates []Candidate) (int, error) {
	for _, r := range rs.rules {
		if _, ok := s.Group(ident.GroupKey(r.Name)); ok {
			continue
		}
		if _, err := s.CreateGroup(ident.GroupKey(r.Name), r.Packing); err != nil {
			return 0, err
		}
	}

	added := 0
	for _, c := range candidates {
		if _, _, exists := s.FindEntry(c.GUID); exists {
			continue
		}
		groups := rs.MatchPath(c.Path)
		if len(groups) == 0 {
			continue
		}
		address := c.Address
		if address == "" {
			address = filepath.ToSlash(c.Path)
		}
		if err := s.AddEntry(groups[0], &AssetEntry{GUID: c.GUID, Address: address, Path: c.Path}); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// SaveRules writes the rule set to a YAML file.
func (rs *RuleSet) SaveRules(path string) error {
	data, err := yaml.Marshal(&RulesConfig{Groups: rs.rules})
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}
	return nil
}
