// Package main provides the bundlegraph CLI.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bundlegraph/internal/config"
	"bundlegraph/internal/logging"
	"bundlegraph/internal/output"
	"bundlegraph/internal/store"
)

// Version is the current bundlegraph CLI version
var Version = "0.3.0"

var (
	cfgFile      string
	logLevel     string
	outputFormat string

	cfg *config.Config
	out *output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "bundlegraph",
	Short: "bundlegraph - bundle dependency graphs and layout efficiency",
	Long: `bundlegraph builds the bundle dependency graph of a content build, assembles
its layout (bundles, files, explicit and implicit assets) and reports how much
of each dependency bundle is actually used, which assets are duplicated, and
what changed between builds.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Command groups for organized help output
const (
	groupBuild   = "build"
	groupReport  = "report"
	groupHistory = "history"
)

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	logging.InitStandard(c.Logging)
	cfg = c

	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	out = output.NewFormatter(format)
	out.Writer = cmd.OutOrStdout()
	out.ErrWriter = cmd.ErrOrStderr()
	return nil
}

func openHistory() (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	db.Format = cfg.ReportFormat()
	return db, nil
}

func logger() logrus.FieldLogger {
	return logrus.WithField("component", "cli")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./bundlegraph.yaml or ./config/bundlegraph.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides logging.level)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupBuild, Title: "Build and analyze:"},
		&cobra.Group{ID: groupReport, Title: "Inspect reports:"},
		&cobra.Group{ID: groupHistory, Title: "Build history:"},
	)

	buildCmd.GroupID = groupBuild
	analyzeCmd.GroupID = groupBuild
	peekCmd.GroupID = groupReport
	showCmd.GroupID = groupReport
	efficiencyCmd.GroupID = groupReport
	dupesCmd.GroupID = groupReport
	cyclesCmd.GroupID = groupReport
	diffCmd.GroupID = groupReport
	historyCmd.GroupID = groupHistory

	rootCmd.AddCommand(buildCmd, analyzeCmd)
	rootCmd.AddCommand(peekCmd, showCmd, efficiencyCmd, dupesCmd, cyclesCmd, diffCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
