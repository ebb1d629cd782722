package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"affected/internal/config"
	"affected/internal/errors"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage affected configuration",
	Long:  "View and manage the configuration stored in .affected/config.{json,yaml,toml}",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and AFFECTED_*
environment variables have been applied.

Examples:
  affected config show
  affected config show --format=toml
  AFFECTED_RESOLVE_STRATEGY=forward affected config show`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .affected/config.json",
	RunE:  runConfigInit,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Run:   runConfigEnv,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(FormatYAML)
	if err != nil {
		return err
	}
	switch format {
	case FormatHuman, FormatList:
		// YAML is the most readable of the structured forms.
		data, err := yaml.Marshal(current.cfg)
		if err != nil {
			return errors.New(errors.InternalError, "failed to encode config", err)
		}
		fmt.Println("Configuration")
		fmt.Println(rule)
		fmt.Printf("Root: %s\n\n", current.root)
		fmt.Print(string(data))
		return nil
	default:
		return writeResponse(os.Stdout, current.cfg, format)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	a := current
	path := config.Path(a.root)
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return errors.Newf(errors.InvalidInput, "%s already exists (use --force to overwrite)", path)
	}
	if err := config.DefaultConfig().Save(a.root); err != nil {
		return errors.New(errors.InternalError, "failed to write config", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigEnv(cmd *cobra.Command, args []string) {
	keys := []string{
		"resolve.strategy",
		"resolve.caseSensitivity",
		"resolve.traverseModuleDirectories",
		"resolve.reportCycles",
		"scan.workers",
		"scan.maxFileSizeBytes",
		"scan.readTimeoutMs",
		"cache.enabled",
		"cache.path",
		"changes.base",
		"changes.staged",
		"changes.untracked",
		"watch.debounceMs",
		"logging.format",
		"logging.level",
		"logging.file",
	}
	fmt.Println("Environment Overrides")
	fmt.Println(rule)
	for _, k := range keys {
		env := "AFFECTED_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		fmt.Printf("  %-40s %s\n", env, k)
	}
}
