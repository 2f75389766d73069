package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/bootstrap"
	"github.com/xwp/wp-customize-rest-resources/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Store the route table's seed resources",
	Long: `Write every seed resource of the route table to the configured
database. Existing resources with the same id are replaced.

Examples:
  customize-rest seed
  customize-rest seed --config /etc/customize-rest/config.yaml`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory driver is seeded on every start")
	}

	logger := bootstrap.NewLogger(cfg.Logging)
	store, db, err := bootstrap.OpenStore(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	api, err := bootstrap.NewAPI(cfg, store, nil, logger)
	if err != nil {
		return err
	}
	n, err := api.Seed(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d resources into %s\n", n, cfg.Database.DSN)
	return nil
}
