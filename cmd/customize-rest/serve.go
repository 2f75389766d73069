package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xwp/wp-customize-rest-resources/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST server",
	Long: `Start the customize-rest server.

The server will:
  - Load configuration from customize-rest.yaml (or --config)
  - Or load configuration from CUSTOMIZE_* environment variables
  - Open the resource store and seed it when empty
  - Serve the route table under the API mount
  - Accept customizer sessions, previews and saves

Environment variables:
  CUSTOMIZE_SERVER_PORT                - Server port (default: 8080)
  CUSTOMIZE_API_ROOT                   - Public REST root URL
  CUSTOMIZE_API_ROUTES_FILE            - Route table file (default: routes.jsonc)
  CUSTOMIZE_DATABASE_DRIVER            - sqlite or memory
  CUSTOMIZE_DATABASE_DSN               - Database path
  CUSTOMIZE_EDITOR_STRICT_VALIDATION   - Reject saves on any invalid setting
  CUSTOMIZE_LOG_LEVEL                  - debug, info, warn, error

Examples:
  customize-rest serve
  customize-rest serve --config /etc/customize-rest/config.yaml
  customize-rest serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload configuration on file change or SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "No %s found, using environment variables\n", cfgFile)
	}

	app, err := bootstrap.New(cmd.Context(), bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    versionInfo(),
		Watch:      hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run(cmd.Context())
}
