package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mobibase/mobibase/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}

		fmt.Println("Configuration valid")
		fmt.Printf("  Server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("  Database:  %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
		fmt.Printf("  Verify emails: %v\n", cfg.Account.VerifyUserEmails)
		fmt.Printf("  Password policy: %v\n", cfg.PasswordPolicy().Enabled())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
