package main

import (
	"github.com/spf13/cobra"

	"affected/internal/version"
)

var (
	rootFlag    string
	verbosity   int
	quietFlag   bool
	logFileFlag string
	formatFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "affected",
	Short: "affected - select the tests reached by changed files",
	Long: `affected builds the import graph of JavaScript and TypeScript test files and
reports which tests can reach a changed file.

Examples:
  affected tests                         # Tests affected by uncommitted changes
  affected tests --base=main             # Tests affected since main
  affected tests --changed src/a.ts      # Tests affected by one file
  git diff main | affected tests --diff -
  affected graph test/a.spec.ts          # Show what a test imports`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupApp,
}

func init() {
	rootCmd.SetVersionTemplate("affected version {{.Version}}\n")
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlag, "root", "", "Project root (default: current directory)")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all log output")
	pf.StringVar(&logFileFlag, "log-file", "", "Also write debug logs to this file")
	pf.StringVar(&formatFlag, "format", "", "Output format: human, list, json, yaml or toml (default: human on a terminal)")
}
