// Package rules implements analyze rules: checks run over a fresh build layout
// that report problems as flat, delimiter-joined result paths.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bundlegraph/entry"
	"bundlegraph/layout"
)

// DefaultDelimiter joins the segments of a result name.
const DefaultDelimiter = ":"

// NoIssuesFound is the single result of a rule that found nothing.
const NoIssuesFound = "No issues found"

// ErrUnsavedScenes is recorded by a rule that refused to run because open
// scenes have unsaved modifications. It is reported through Err and Results,
// never returned from Refresh.
var ErrUnsavedScenes = errors.New("unsaved scenes detected")

// Severity classifies a result.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is one reported issue.
type Result struct {
	Name     string   `json:"name" yaml:"name"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// JoinName joins parts with delim, skipping empty parts.
func JoinName(delim string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, delim)
}

// State is the lifecycle position of a rule.
type State int

const (
	Idle State = iota
	Running
	HasResults
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case HasResults:
		return "has-results"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// AssetDatabase is the slice of the asset database the rules read.
type AssetDatabase interface {
	Dependencies(path string, recursive bool) []string
	GUIDToPath(guid string) string
	PathToGUID(path string) string
}

// SceneState reports whether open scenes have unsaved edits.
type SceneState interface {
	HasUnsavedModifications() bool
}

// Builder produces a fresh layout with efficiency and duplicate data filled in.
type Builder func() (*layout.Layout, error)

// Context is everything a rule needs to run.
type Context struct {
	Settings      *entry.Settings
	Assets        AssetDatabase
	Scenes        SceneState
	Build         Builder
	BuildScenes   []string
	ResourcePaths []string
	Delimiter     string
}

func (c *Context) delimiter() string {
	if c.Delimiter == "" {
		return DefaultDelimiter
	}
	return c.Delimiter
}

// Rule is one analyze check.
type Rule interface {
	Name() string
	State() State
	Results() []Result
	Err() error
	Refresh(c *Context) error
	Clear()
}

// Fixable is a rule that can repair what it reports.
type Fixable interface {
	Rule
	Fix(c *Context) error
}

type baseRule struct {
	name    string
	state   State
	results []Result
	err     error
}

func (r *baseRule) Name() string      { return r.name }
func (r *baseRule) State() State      { return r.state }
func (r *baseRule) Results() []Result { return r.results }
func (r *baseRule) Err() error        { return r.err }

func (r *baseRule) Clear() {
	r.state = Idle
	r.results = nil
	r.err = nil
}

func (r *baseRule) fail(err error, msg string) {
	r.state = Failed
	r.err = err
	r.results = []Result{{Name: msg, Severity: Error}}
}

// run drives the Idle -> Running -> HasResults|Failed transitions shared by
// every rule.
func (r *baseRule) run(c *Context, check func(*layout.Layout) []Result) error {
	r.Clear()
	r.state = Running

	if c.Scenes != nil && c.Scenes.HasUnsavedModifications() {
		r.fail(ErrUnsavedScenes, fmt.Sprintf("Unsaved scenes detected; save them and re-run %s", r.name))
		return nil
	}
	if c.Build == nil {
		err := errors.New("no layout builder configured")
		r.fail(err, err.Error())
		return fmt.Errorf("%s: %w", r.name, err)
	}

	l, err := c.Build()
	if err != nil {
		r.fail(err, fmt.Sprintf("Build failed: %v", err))
		return fmt.Errorf("%s: %w", r.name, err)
	}

	results := dedupe(check(l))
	if len(results) == 0 {
		results = []Result{{Name: NoIssuesFound, Severity: Info}}
	}
	r.results = results
	r.state = HasResults
	return nil
}

func dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, res := range results {
		if _, ok := seen[res.Name]; ok {
			continue
		}
		seen[res.Name] = struct{}{}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry holds the rules available to a caller.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry holding rules.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	for _, rule := range rules {
		r.Register(rule)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in rule.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewCheckBundleDupeDependencies(),
		NewCheckResourcesDupeDependencies(),
		NewCheckSceneDupeDependencies(),
	)
}

// Register adds rule, replacing any rule with the same name.
func (r *Registry) Register(rule Rule) {
	for i, existing := range r.rules {
		if existing.Name() == rule.Name() {
			r.rules[i] = rule
			return
		}
	}
	r.rules = append(r.rules, rule)
}

// Rules returns the registered rules in registration order.
func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Rule returns the rule named name.
func (r *Registry) Rule(name string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Name() == name {
			return rule, true
		}
	}
	return nil, false
}

// RunAll refreshes every rule, continuing past failures. The layout is built
// at most once and shared by all rules of the run.
func (r *Registry) RunAll(c *Context) error {
	shared := *c
	if c.Build != nil {
		var (
			l     *layout.Layout
			err   error
			built bool
		)
		shared.Build = func() (*layout.Layout, error) {
			if !built {
				l, err = c.Build()
				built = true
			}
			return l, err
		}
	}

	var errs []error
	for _, rule := range r.rules {
		if err := rule.Refresh(&shared); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
