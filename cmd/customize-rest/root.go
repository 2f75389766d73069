package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "customize-rest",
	Short: "REST resources with customizer preview and save",
	Long: `customize-rest serves the resources of a route table over a REST API.

Edits staged in the customizer are previewed on REST responses and saved
in one request once every staged value validates.

Quick start:
  customize-rest serve     # Start the server
  customize-rest routes    # Print the route table
  customize-rest edit      # Edit resources of a running server
  customize-rest validate  # Validate configuration and routes`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file path")
}
