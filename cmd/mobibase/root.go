package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mobibase",
	Short: "Multi-tenant object store with schema enforcement, triggers, and sessions",
	Long: `Mobibase is a self-hosted backend object store.

It stores schemaless objects per class behind a REST surface, with
object-level ACLs, schema defaults and required fields, user accounts
with password policies and federated login, device installations,
roles, and beforeSave/afterSave triggers.

Quick start:
  mobibase serve     # Start the API server

Management:
  mobibase validate  # Validate configuration
  mobibase version   # Print version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "mobibase.yaml", "config file path")
}
