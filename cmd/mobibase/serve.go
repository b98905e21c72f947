package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mobibase/mobibase/bootstrap"
	"github.com/mobibase/mobibase/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the object store server",
	Long: `Start the mobibase API server.

The server will:
  - Load configuration from mobibase.yaml (or --config)
  - Or load configuration from MOBIBASE_* environment variables
  - Connect to the database and run migrations
  - Serve object writes on /classes, /users, /sessions, /installations

Environment variables (for Docker deployments):
  MOBIBASE_MASTER_KEY       - Master key (required)
  MOBIBASE_DATABASE_DSN     - Database path (default: mobibase.db)
  MOBIBASE_SERVER_PORT      - Server port (default: 1337)
  MOBIBASE_PUBLIC_URL       - Public base URL for Location headers
  MOBIBASE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  mobibase serve
  mobibase serve --config /etc/mobibase/config.yaml
  mobibase serve --hot-reload=false

  # Docker (env vars only):
  MOBIBASE_MASTER_KEY=secret mobibase serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	hasEnvConfig := config.HasEnvConfig()

	// No configuration at all
	if !hasConfigFile && !hasEnvConfig {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s with at least server.master_key\n", cfgFile)
		fmt.Println("Option 2: Set MOBIBASE_MASTER_KEY environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  MOBIBASE_MASTER_KEY=secret mobibase serve")
		return nil
	}

	// Create application
	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with config file
		app, err = bootstrap.NewWithHotReload(cfgFile)
	} else {
		// Load config (file with env overrides, or env-only)
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}

		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}

		app, err = bootstrap.New(cfg)
	}

	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
