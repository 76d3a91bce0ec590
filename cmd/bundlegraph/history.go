package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"bundlegraph/cas"
	"bundlegraph/internal/output"
)

var (
	historyLimit int
	edgesLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded builds",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyEdgesCmd = &cobra.Command{
	Use:   "edges <build-id>",
	Short: "Show the least efficient edges of a recorded build",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryEdges,
}

var historyDependentsCmd = &cobra.Command{
	Use:   "dependents <build-id> <bundle>",
	Short: "Show the bundles that depend on a bundle in a recorded build",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryDependents,
}

var historyRemoveCmd = &cobra.Command{
	Use:     "rm <build-id>",
	Aliases: []string{"remove"},
	Short:   "Remove a recorded build",
	Args:    cobra.ExactArgs(1),
	RunE:    runHistoryRemove,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Show at most n builds (0 for all)")
	historyEdgesCmd.Flags().IntVarP(&edgesLimit, "limit", "n", 10, "Show at most n edges (0 for all)")

	historyCmd.AddCommand(historyEdgesCmd, historyDependentsCmd, historyRemoveCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	builds, err := db.ListBuilds(historyLimit)
	if err != nil {
		return err
	}
	if out.Format == output.FormatTable && len(builds) == 0 {
		out.PrintInfo("No builds recorded in %s", db.Path())
		return nil
	}

	table := output.TableData{Headers: []string{"ID", "Started", "Target", "Strategy", "Version", "Bundles", "Duration", "Error"}}
	for _, b := range builds {
		table.Rows = append(table.Rows, []string{
			cas.ShortID(b.ID),
			b.StartedAt.Local().Format("2006-01-02 15:04:05"),
			b.Target,
			b.Strategy,
			strconv.Itoa(b.SettingsVersion),
			output.Count(b.Counts.Bundles),
			b.Duration.String(),
			b.BuildError,
		})
	}
	return out.Render(builds, table)
}

func runHistoryEdges(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	edges, err := db.WorstEdges(args[0], edgesLimit)
	if err != nil {
		return err
	}
	table := output.TableData{Headers: []string{"From", "To", "Assets", "Used", "Efficiency", "Expanded"}}
	for _, e := range edges {
		table.Rows = append(table.Rows, []string{
			e.From,
			e.To,
			strconv.Itoa(e.AssetDependencies),
			output.Bytes(e.ReferencedSize),
			output.Percent(e.Efficiency),
			output.Percent(e.ExpandedEfficiency),
		})
	}
	return out.Render(edges, table)
}

func runHistoryDependents(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	deps, err := db.Dependents(args[0], args[1])
	if err != nil {
		return err
	}
	table := output.TableData{Headers: []string{"Bundle"}}
	for _, d := range deps {
		table.Rows = append(table.Rows, []string{d})
	}
	return out.Render(deps, table)
}

func runHistoryRemove(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteBuild(args[0]); err != nil {
		return err
	}
	logger().WithField("build", args[0]).Info("Build removed")
	return nil
}
