package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bundlegraph/analyze"
	"bundlegraph/internal/manifest"
	"bundlegraph/internal/store"
	"bundlegraph/rules"
)

// project copies the manifest fixture into a temp dir and points the data
// dir at it.
func project(t *testing.T) (dir, manifestPath string) {
	t.Helper()
	src, err := filepath.Abs(filepath.Join("..", "..", "internal", "manifest", "testdata"))
	if err != nil {
		t.Fatal(err)
	}
	dir = t.TempDir()
	t.Chdir(dir)
	t.Setenv("BUNDLEGRAPH_DATA_DIR", filepath.Join(dir, "data"))

	for _, name := range []string{"project.yaml", "rules.yaml", filepath.Join("bundles", "scenes.bundle")} {
		data, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			t.Fatalf("reading fixture %s: %v", name, err)
		}
		dst := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir, filepath.Join(dir, "project.yaml")
}

func resetFlags() {
	cfgFile, logLevel, outputFormat = "", "error", "table"
	buildTarget, buildStrategy, buildReportOut = "", "", ""
	buildIncremental, buildNoHistory = false, false
	analyzeFix, analyzeRules = false, nil
	efficiencyLimit, efficiencyBelow, diffStat = 0, 1.0, false
	historyLimit, edgesLimit = 20, 10
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	resetFlags()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("bundlegraph %s: %v\nstderr: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String()
}

func decode(t *testing.T, data string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), v); err != nil {
		t.Fatalf("decoding %q: %v", data, err)
	}
}

func TestCommandGroups(t *testing.T) {
	want := map[string]string{
		"build":      groupBuild,
		"analyze":    groupBuild,
		"peek":       groupReport,
		"show":       groupReport,
		"efficiency": groupReport,
		"dupes":      groupReport,
		"cycles":     groupReport,
		"diff":       groupReport,
		"history":    groupHistory,
	}
	for name, group := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Errorf("command %s not registered: %v", name, err)
			continue
		}
		if cmd.GroupID != group {
			t.Errorf("command %s: expected group %s, got %s", name, group, cmd.GroupID)
		}
	}
}

func TestHistorySubcommands(t *testing.T) {
	for _, name := range []string{"edges", "dependents", "rm"} {
		if _, _, err := rootCmd.Find([]string{"history", name}); err != nil {
			t.Errorf("history %s not registered: %v", name, err)
		}
	}
}

func TestBuildAndInspect(t *testing.T) {
	dir, path := project(t)

	var built buildOutput
	decode(t, execute(t, "build", path, "-o", "json"), &built)
	if built.BuildID == "" {
		t.Fatal("expected build to be recorded")
	}
	if built.Counts.Bundles != 3 {
		t.Errorf("expected 3 bundles, got %d", built.Counts.Bundles)
	}
	if built.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", built.Duplicates)
	}
	if !strings.HasPrefix(built.Report, filepath.Join(dir, "data", "reports")) {
		t.Errorf("expected report under data dir, got %s", built.Report)
	}
	if _, err := os.Stat(built.Report); err != nil {
		t.Fatalf("report not written: %v", err)
	}

	var rows []analyze.BundleSummary
	decode(t, execute(t, "show", built.Report, "-o", "json"), &rows)
	if len(rows) != 3 {
		t.Fatalf("expected 3 summary rows, got %d", len(rows))
	}

	var edges []analyze.Edge
	decode(t, execute(t, "efficiency", built.BuildID[:10], "-o", "json"), &edges)
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	if edges[0].From != "scenes.bundle" || edges[0].To != "weapons.bundle" || edges[0].Efficiency != 0 {
		t.Errorf("expected unreferenced scenes -> weapons first, got %+v", edges[0])
	}
	if edges[1].From != "scenes.bundle" || edges[1].To != "chars.bundle" {
		t.Errorf("expected scenes -> chars second, got %+v", edges[1])
	}

	edges = nil
	decode(t, execute(t, "efficiency", built.Report, "--below", "0.28", "-o", "json"), &edges)
	if len(edges) != 2 {
		t.Errorf("expected 2 edges below 0.28, got %d", len(edges))
	}

	var dupes []dupeOutput
	decode(t, execute(t, "dupes", built.Report, "-o", "json"), &dupes)
	if len(dupes) != 1 {
		t.Fatalf("expected 1 duplicated asset, got %d", len(dupes))
	}
	if dupes[0].Path != "Assets/Shared/Tex.png" || dupes[0].Wasted != 200 {
		t.Errorf("unexpected duplicate: %+v", dupes[0])
	}
	if len(dupes[0].Bundles) != 2 {
		t.Errorf("expected 2 bundles, got %v", dupes[0].Bundles)
	}

	if got := execute(t, "cycles", built.Report); !strings.Contains(got, "No dependency cycles.") {
		t.Errorf("unexpected cycles output: %q", got)
	}
	if got := execute(t, "diff", built.Report, built.BuildID); !strings.Contains(got, "No changes.") {
		t.Errorf("unexpected diff output: %q", got)
	}
	if got := execute(t, "peek", built.Report); !strings.Contains(got, "Target: Android") {
		t.Errorf("unexpected peek output: %q", got)
	}
}

func TestHistoryCommands(t *testing.T) {
	_, path := project(t)

	var built buildOutput
	decode(t, execute(t, "build", path, "-o", "json"), &built)

	var builds []store.BuildInfo
	decode(t, execute(t, "history", "-o", "json"), &builds)
	if len(builds) != 1 || builds[0].ID != built.BuildID {
		t.Fatalf("expected recorded build %s, got %+v", built.BuildID, builds)
	}

	var edges []store.EdgeInfo
	decode(t, execute(t, "history", "edges", built.BuildID, "-n", "1", "-o", "json"), &edges)
	if len(edges) != 1 || edges[0].From != "scenes.bundle" || edges[0].To != "weapons.bundle" {
		t.Errorf("unexpected worst edge: %+v", edges)
	}

	var deps []string
	decode(t, execute(t, "history", "dependents", built.BuildID, "chars.bundle", "-o", "json"), &deps)
	if len(deps) != 1 || deps[0] != "scenes.bundle" {
		t.Errorf("expected [scenes.bundle], got %v", deps)
	}

	execute(t, "history", "rm", built.BuildID)
	if got := execute(t, "history"); !strings.Contains(got, "No builds recorded") {
		t.Errorf("expected empty history, got %q", got)
	}
}

func TestBuildNoHistory(t *testing.T) {
	dir, path := project(t)
	out := filepath.Join(dir, "out.json")

	var built buildOutput
	decode(t, execute(t, "build", path, "--no-history", "--out", out, "-o", "json"), &built)
	if built.BuildID != "" {
		t.Errorf("expected no build id, got %s", built.BuildID)
	}
	if built.Report != out {
		t.Errorf("expected report at %s, got %s", out, built.Report)
	}
}

func TestAnalyzeFix(t *testing.T) {
	_, path := project(t)

	var results []map[string]interface{}
	decode(t, execute(t, "analyze", path, "--fix", "-o", "json"), &results)
	if len(results) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(results))
	}

	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("reloading manifest: %v", err)
	}
	s, err := m.Settings()
	if err != nil {
		t.Fatal(err)
	}
	_, g, ok := s.FindEntry("a4")
	if !ok {
		t.Fatal("expected a4 to be moved into a group")
	}
	if g.Key != rules.IsolationGroup {
		t.Errorf("expected group %s, got %s", rules.IsolationGroup, g.Key)
	}
}
