package main

import (
	"fmt"

	"github.com/spf13/cobra"

	apihttp "github.com/xwp/wp-customize-rest-resources/adapters/http"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "customize-rest %s\n", version)
		fmt.Fprintf(out, "  commit:  %s\n", commit)
		fmt.Fprintf(out, "  built:   %s\n", buildDate)
	},
}

func versionInfo() apihttp.VersionInfo {
	return apihttp.VersionInfo{Version: version, Commit: commit, Service: "customize-rest"}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
