package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"bundlegraph/cas"
	"bundlegraph/entry"
	"bundlegraph/internal/manifest"
	"bundlegraph/internal/output"
	"bundlegraph/internal/store"
	"bundlegraph/layout"
	"bundlegraph/plan"
	"bundlegraph/report"
	"bundlegraph/rules"
	"bundlegraph/session"
)

var (
	buildTarget      string
	buildStrategy    string
	buildIncremental bool
	buildReportOut   string
	buildNoHistory   bool

	analyzeFix   bool
	analyzeRules []string
)

var buildCmd = &cobra.Command{
	Use:   "build <manifest>",
	Short: "Run a build session and write its layout report",
	Long: `Run a build session for a project manifest: resolve the build plan, replay
the write results, build the bundle dependency graph, assemble the layout and
compute efficiency and duplication data.

The report is written to --out, or to the configured report directory, and
the build is recorded in the history database.

Examples:
  bundlegraph build project.yaml
  bundlegraph build project.yaml --target Android -o json
  bundlegraph build project.yaml --strategy packed-play`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <manifest>",
	Short: "Run the duplicate-dependency rules against a project",
	Long: `Run the analyze rules against a project manifest. Every rule shares one
layout build.

With --fix, fixable rules that found issues apply their fix and the updated
groups are written back to the manifest.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	buildCmd.Flags().StringVar(&buildTarget, "target", "", "Build target (default: manifest target, then build.target)")
	buildCmd.Flags().StringVar(&buildStrategy, "strategy", "", "Build strategy: fast, packed, packed-play (default: build.strategy)")
	buildCmd.Flags().BoolVar(&buildIncremental, "incremental", false, "Ask the backend for an incremental build")
	buildCmd.Flags().StringVar(&buildReportOut, "out", "", "Report output path")
	buildCmd.Flags().BoolVar(&buildNoHistory, "no-history", false, "Do not record the build in history")

	analyzeCmd.Flags().BoolVar(&analyzeFix, "fix", false, "Apply fixes and write the manifest back")
	analyzeCmd.Flags().StringSliceVar(&analyzeRules, "rule", nil, "Only run the named rules")
}

func target(m *manifest.Manifest) string {
	switch {
	case buildTarget != "":
		return buildTarget
	case m.Target != "":
		return m.Target
	default:
		return cfg.Build.Target
	}
}

func newSession(m *manifest.Manifest, s *entry.Settings, history session.History) (*session.Session, error) {
	strategy := cfg.Strategy()
	if buildStrategy != "" {
		parsed, err := plan.ParseStrategy(buildStrategy)
		if err != nil {
			return nil, err
		}
		strategy = parsed
	}

	sess := session.New(s, m)
	sess.Strategy = strategy
	sess.AssetDatabase = m
	sess.Prober = m
	sess.Logger = logger()
	sess.Incremental = buildIncremental || cfg.Build.Incremental
	sess.TypeCacheSize = cfg.TypeCacheSize
	sess.History = history
	return sess, nil
}

func reportPath(l *layout.Layout, buildID string) string {
	if buildReportOut != "" {
		return buildReportOut
	}
	name := buildID
	if name == "" {
		name = l.Header.BuildStartTime.UTC().Format("20060102T150405")
	}
	name = fmt.Sprintf("%s-%s%s", l.Header.BuildTarget, cas.ShortID(name), cfg.ReportFormat().Ext())
	return filepath.Join(cfg.ReportDir(), name)
}

func runBuild(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	s, err := m.Settings()
	if err != nil {
		return err
	}

	var db *store.DB
	if !buildNoHistory {
		db, err = openHistory()
		if err != nil {
			return err
		}
		defer db.Close()
	}

	var history session.History
	if db != nil {
		history = db
	}
	sess, err := newSession(m, s, history)
	if err != nil {
		return err
	}

	res, err := sess.Run(cmd.Context(), target(m))
	if err != nil {
		return err
	}
	if res.Status == session.StatusNothingToDo {
		out.PrintInfo("Nothing to do (%s)", sess.Strategy)
		return nil
	}

	l := res.Layout
	path := reportPath(l, res.BuildID)
	if err := report.WriteFile(path, l, cfg.ReportFormat()); err != nil {
		return err
	}
	logger().WithField("path", path).Info("Report written")

	return printBuild(l, res.BuildID, path)
}

type buildOutput struct {
	BuildID  string        `json:"buildId,omitempty" yaml:"buildId,omitempty"`
	Report   string        `json:"report" yaml:"report"`
	Target   string        `json:"target" yaml:"target"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Counts   layout.Counts `json:"counts" yaml:"counts"`
	// Duplicates is the number of implicit assets written to more than one file.
	Duplicates int `json:"duplicates" yaml:"duplicates"`
}

func printBuild(l *layout.Layout, buildID, path string) error {
	data := buildOutput{
		BuildID:    buildID,
		Report:     path,
		Target:     l.Header.BuildTarget,
		Duration:   l.Header.Duration,
		Counts:     l.Counts(),
		Duplicates: len(l.Duplicates),
	}
	if out.Format != output.FormatTable {
		return out.Print(data)
	}
	if buildID != "" {
		out.PrintKeyValue("Build", cas.ShortID(buildID))
	}
	out.PrintKeyValue("Report", path)
	out.PrintKeyValue("Target", data.Target)
	out.PrintKeyValue("Duration", data.Duration.String())
	out.PrintInfo("")
	out.PrintTable(bundleTable(l))
	return nil
}

// ----- analyze -----

type ruleOutput struct {
	Rule    string         `json:"rule" yaml:"rule"`
	State   string         `json:"state" yaml:"state"`
	Results []rules.Result `json:"results" yaml:"results"`
	Error   string         `json:"error,omitempty" yaml:"error,omitempty"`
	Fixed   bool           `json:"fixed,omitempty" yaml:"fixed,omitempty"`
}

func selectRules(reg *rules.Registry) (*rules.Registry, error) {
	if len(analyzeRules) == 0 {
		return reg, nil
	}
	selected := rules.NewRegistry()
	for _, name := range analyzeRules {
		r, ok := reg.Rule(name)
		if !ok {
			return nil, fmt.Errorf("unknown rule %q", name)
		}
		selected.Register(r)
	}
	return selected, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	s, err := m.Settings()
	if err != nil {
		return err
	}
	sess, err := newSession(m, s, nil)
	if err != nil {
		return err
	}
	sess.Strategy = plan.PackedMode

	ctx := cmd.Context()
	rc := &rules.Context{
		Settings:      s,
		Assets:        m.RuleAssets(),
		Scenes:        m,
		BuildScenes:   m.Scenes,
		ResourcePaths: m.ResourcePaths(),
		Delimiter:     cfg.Rules.Delimiter,
		Build: func() (*layout.Layout, error) {
			res, err := sess.Run(ctx, target(m))
			if err != nil {
				return nil, err
			}
			if res.Layout == nil {
				return nil, fmt.Errorf("build produced no layout (%s)", res.Status)
			}
			return res.Layout, nil
		},
	}

	reg, err := selectRules(rules.DefaultRegistry())
	if err != nil {
		return err
	}
	runErr := reg.RunAll(rc)
	if runErr != nil {
		logger().WithError(runErr).Warn("Some rules failed")
	}

	var (
		results []ruleOutput
		fixed   bool
	)
	for _, r := range reg.Rules() {
		ro := ruleOutput{Rule: r.Name(), State: r.State().String(), Results: r.Results()}
		if r.Err() != nil {
			ro.Error = r.Err().Error()
		}
		if f, ok := r.(rules.Fixable); ok && analyzeFix && hasIssues(r) {
			if err := f.Fix(rc); err != nil {
				return err
			}
			ro.Fixed = true
			fixed = true
		}
		results = append(results, ro)
	}

	if fixed {
		m.SetGroups(s)
		if err := m.Save(path); err != nil {
			return err
		}
		logger().WithField("manifest", path).Info("Fixed groups written")
	}

	table := output.TableData{Headers: []string{"Rule", "Severity", "Result"}}
	for _, ro := range results {
		for _, res := range ro.Results {
			table.Rows = append(table.Rows, []string{ro.Rule, res.Severity.String(), res.Name})
		}
	}
	if err := out.Render(results, table); err != nil {
		return err
	}
	if fixed {
		out.PrintInfo("\nFixes applied to %s", path)
	}
	return runErr
}

func hasIssues(r rules.Rule) bool {
	if r.State() != rules.HasResults {
		return false
	}
	for _, res := range r.Results() {
		if res.Name != rules.NoIssuesFound {
			return true
		}
	}
	return false
}
