package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/adapters/restapi"
	"github.com/xwp/wp-customize-rest-resources/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and the route table",
	Long: `Validate the customize-rest configuration before deployment.

Checks:
  - YAML syntax is valid
  - Field values are in range
  - The route table parses and every seed resource has an id

Examples:
  customize-rest validate
  customize-rest validate --config /etc/customize-rest/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintf(out, "  %s Config file not found, using environment\n", checkMark)
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "  %s API root: %s (mounted at %s)\n", checkMark, cfg.API.Root, cfg.API.Mount)
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Strict validation: %t\n", checkMark, cfg.Editor.Strict())

	table, err := restapi.LoadTable(cfg.API.RoutesFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Route table %s\n", crossMark, cfg.API.RoutesFile)
		return fmt.Errorf("route table error: %w", err)
	}
	seeds := 0
	for _, typ := range table.Types {
		seeds += len(typ.Seed)
	}
	fmt.Fprintf(out, "  %s Route table %s: %d types, %d seed resources\n",
		checkMark, cfg.API.RoutesFile, len(table.Types), seeds)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
