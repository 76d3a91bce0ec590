package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bundlegraph/analyze"
	"bundlegraph/depgraph"
	"bundlegraph/diff"
	"bundlegraph/ident"
	"bundlegraph/internal/output"
	"bundlegraph/layout"
	"bundlegraph/report"
)

var (
	efficiencyLimit int
	efficiencyBelow float64
	diffStat        bool
)

var peekCmd = &cobra.Command{
	Use:   "peek <report>",
	Short: "Show a report header without reading its body",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeek,
}

var showCmd = &cobra.Command{
	Use:   "show <report|build-id>",
	Short: "Show the bundles of a layout",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var efficiencyCmd = &cobra.Command{
	Use:   "efficiency <report|build-id>",
	Short: "Show bundle dependency edges, least efficient first",
	Long: `Show every bundle dependency with its efficiency: the share of the
dependency bundle's size that the depending bundle actually references.
Expanded efficiency also counts everything the dependency pulls in.

Examples:
  bundlegraph efficiency build.json --limit 10
  bundlegraph efficiency build.json --below 0.25`,
	Args: cobra.ExactArgs(1),
	RunE: runEfficiency,
}

var dupesCmd = &cobra.Command{
	Use:   "dupes <report|build-id>",
	Short: "Show implicit assets written into more than one file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDupes,
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles <report|build-id>",
	Short: "Show groups of bundles that depend on each other",
	Args:  cobra.ExactArgs(1),
	RunE:  runCycles,
}

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new>",
	Short: "Show what changed between two layouts",
	Long: `Show bundles added, removed and modified between two layouts, and the
explicit assets that were added, removed, resized or moved between bundles.

Each argument is a report file or a build id from history.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	efficiencyCmd.Flags().IntVarP(&efficiencyLimit, "limit", "n", 0, "Show at most n edges")
	efficiencyCmd.Flags().Float64Var(&efficiencyBelow, "below", 1.0, "Only show edges with efficiency below this value")
	diffCmd.Flags().BoolVar(&diffStat, "stat", false, "Show only the summary line")
}

// loadLayout reads a report file, falling back to a build id in history.
func loadLayout(arg string) (*layout.Layout, error) {
	if _, err := os.Stat(arg); err == nil {
		return report.ReadFile(arg)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	db, err := openHistory()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	l, err := db.LoadLayout(arg)
	if err != nil {
		return nil, fmt.Errorf("%s is neither a report file nor a known build: %w", arg, err)
	}
	return l, nil
}

func runPeek(cmd *cobra.Command, args []string) error {
	hdr, format, err := report.PeekFile(args[0])
	if err != nil {
		return err
	}
	if out.Format != output.FormatTable {
		return out.Print(hdr)
	}
	out.PrintKeyValue("Format", format.String())
	out.PrintKeyValue("Version", strconv.Itoa(hdr.Version))
	out.PrintKeyValue("Target", hdr.BuildTarget)
	if !hdr.BuildStartTime.IsZero() {
		out.PrintKeyValue("Started", hdr.BuildStartTime.Format("2006-01-02 15:04:05 MST"))
	}
	out.PrintKeyValue("Duration", hdr.Duration.String())
	out.PrintKeyValue("Strategy", hdr.Strategy)
	out.PrintKeyValue("Settings", strconv.Itoa(hdr.SettingsVersion))
	if hdr.BuildError != "" {
		out.PrintKeyValue("Error", hdr.BuildError)
	}
	out.PrintKeyValue("Bundles", output.Count(hdr.Counts.Bundles))
	out.PrintKeyValue("Files", output.Count(hdr.Counts.Files))
	out.PrintKeyValue("Explicit assets", output.Count(hdr.Counts.ExplicitAssets))
	out.PrintKeyValue("Other assets", output.Count(hdr.Counts.OtherAssets))
	out.PrintKeyValue("Digest", hdr.Digest)
	return nil
}

func bundleTable(l *layout.Layout) output.TableData {
	table := output.TableData{Headers: []string{"Bundle", "Group", "Size", "Files", "Assets", "Implicit", "Deps", "Expanded", "Dependents", "Worst"}}
	for _, row := range analyze.Summary(l) {
		table.Rows = append(table.Rows, []string{
			string(row.Name),
			string(row.Group),
			output.Bytes(row.FileSize),
			strconv.Itoa(row.Files),
			strconv.Itoa(row.ExplicitAssets),
			strconv.Itoa(row.OtherAssets),
			strconv.Itoa(row.Dependencies),
			strconv.Itoa(row.Expanded),
			strconv.Itoa(row.Dependents),
			output.Percent(row.WorstEfficiency),
		})
	}
	return table
}

func runShow(cmd *cobra.Command, args []string) error {
	l, err := loadLayout(args[0])
	if err != nil {
		return err
	}
	return out.Render(analyze.Summary(l), bundleTable(l))
}

func runEfficiency(cmd *cobra.Command, args []string) error {
	l, err := loadLayout(args[0])
	if err != nil {
		return err
	}

	var edges []analyze.Edge
	for _, e := range analyze.Edges(l) {
		if efficiencyBelow < 1.0 && e.Efficiency >= efficiencyBelow {
			continue
		}
		edges = append(edges, e)
		if efficiencyLimit > 0 && len(edges) == efficiencyLimit {
			break
		}
	}

	table := output.TableData{Headers: []string{"From", "To", "Assets", "Used", "Size", "Efficiency", "Expanded"}}
	for _, e := range edges {
		table.Rows = append(table.Rows, []string{
			string(e.From),
			string(e.To),
			strconv.Itoa(e.AssetDependencies),
			output.Bytes(e.ReferencedSize),
			output.Bytes(e.TargetSize),
			output.Percent(e.Efficiency),
			output.Percent(e.ExpandedEfficiency),
		})
	}
	return out.Render(edges, table)
}

type dupeOutput struct {
	Asset   string   `json:"asset" yaml:"asset"`
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Objects int      `json:"objects" yaml:"objects"`
	Bundles []string `json:"bundles" yaml:"bundles"`
	Wasted  uint64   `json:"wastedBytes" yaml:"wastedBytes"`
}

func runDupes(cmd *cobra.Command, args []string) error {
	l, err := loadLayout(args[0])
	if err != nil {
		return err
	}
	dups := l.Duplicates
	if dups == nil {
		dups = analyze.FindDuplicates(l)
	}

	type occurrence struct {
		path string
		size map[int64]uint64
	}
	occ := make(map[ident.AssetID]*occurrence)
	for _, o := range l.OtherAssets() {
		cur := occ[o.AssetID]
		if cur == nil {
			cur = &occurrence{path: o.AssetPath, size: make(map[int64]uint64)}
			occ[o.AssetID] = cur
		}
		for _, obj := range o.Objects {
			cur.size[obj.LocalID] = obj.SerializedSize + obj.StreamedSize
		}
	}

	var rows []dupeOutput
	for _, d := range dups {
		row := dupeOutput{Asset: d.AssetID.String(), Objects: len(d.Objects)}
		if o := occ[d.AssetID]; o != nil {
			row.Path = o.path
			for _, od := range d.Objects {
				if len(od.Files) > 1 {
					row.Wasted += o.size[od.LocalID] * uint64(len(od.Files)-1)
				}
			}
		}
		for _, b := range analyze.DuplicatedBundles(d) {
			row.Bundles = append(row.Bundles, string(b.Name))
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Wasted > rows[j].Wasted })

	table := output.TableData{Headers: []string{"Asset", "Path", "Objects", "Wasted", "Bundles"}}
	for _, r := range rows {
		table.Rows = append(table.Rows, []string{
			r.Asset, r.Path, strconv.Itoa(r.Objects), output.Bytes(r.Wasted), strings.Join(r.Bundles, ", "),
		})
	}
	return out.Render(rows, table)
}

// graphOf rebuilds the bundle dependency graph of a layout.
func graphOf(l *layout.Layout) (*depgraph.Graph, error) {
	g := depgraph.New()
	for _, b := range l.Bundles {
		for _, d := range b.Dependencies {
			if err := g.AddEdge(b.ID, d.ID); err != nil {
				return nil, fmt.Errorf("bundle %s: %w", b.Name, err)
			}
		}
	}
	g.Recompute()
	return g, nil
}

func runCycles(cmd *cobra.Command, args []string) error {
	l, err := loadLayout(args[0])
	if err != nil {
		return err
	}
	g, err := graphOf(l)
	if err != nil {
		return err
	}

	var cycles [][]string
	for _, c := range g.Cycles() {
		names := make([]string, 0, len(c))
		for _, id := range c {
			if b, ok := l.BundleByID(id); ok {
				names = append(names, string(b.Name))
			} else {
				names = append(names, strconv.Itoa(int(id)))
			}
		}
		cycles = append(cycles, names)
	}

	if out.Format == output.FormatTable && len(cycles) == 0 {
		out.PrintInfo("No dependency cycles.")
		return nil
	}
	table := output.TableData{Headers: []string{"Cycle", "Bundles"}}
	for i, c := range cycles {
		table.Rows = append(table.Rows, []string{strconv.Itoa(i + 1), strings.Join(c, " -> ")})
	}
	return out.Render(cycles, table)
}

func runDiff(cmd *cobra.Command, args []string) error {
	prev, err := loadLayout(args[0])
	if err != nil {
		return err
	}
	curr, err := loadLayout(args[1])
	if err != nil {
		return err
	}
	ld := diff.Compare(prev, curr)

	switch {
	case out.Format != output.FormatTable:
		return out.Print(ld)
	case diffStat:
		out.PrintInfo("%s", ld.FormatStats())
	case ld.Empty():
		out.PrintInfo("No changes.")
	default:
		_, err := fmt.Fprint(out.Writer, ld.FormatText())
		return err
	}
	return nil
}
