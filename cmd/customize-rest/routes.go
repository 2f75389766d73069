package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/bootstrap"
	"github.com/xwp/wp-customize-rest-resources/config"
	"github.com/xwp/wp-customize-rest-resources/core/formatter"
	"github.com/xwp/wp-customize-rest-resources/domain/routeschema"
)

var routesOutput string

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Long: `Print the routes compiled from the route table file, with their
methods and the number of schema fields each one accepts.

Examples:
  customize-rest routes
  customize-rest routes -o yaml`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVarP(&routesOutput, "output", "o", "table", "output format: table, json, yaml")
}

func runRoutes(cmd *cobra.Command, args []string) error {
	f, err := formatter.NewRegistry().Get(routesOutput)
	if err != nil {
		return err
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	api, err := bootstrap.NewAPI(cfg, memory.NewResourceStore(), nil, zerolog.Nop())
	if err != nil {
		return err
	}

	var records []map[string]any
	for _, r := range api.RouteTable().Routes {
		records = append(records, map[string]any{
			"pattern": r.Pattern,
			"methods": r.Methods,
			"fields":  fieldCount(r),
		})
	}
	return f.FormatList(cmd.OutOrStdout(), []string{"pattern", "methods", "fields"}, records)
}

func fieldCount(r routeschema.RouteSchema) int {
	if r.Schema == nil {
		return 0
	}
	return len(r.Schema.Properties)
}
